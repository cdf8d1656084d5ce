package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tetrixcorps/compliantivr/internal/ivr/orchestrator"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// maxWebhookBody caps carrier form bodies, multipart included.
const maxWebhookBody = 1 << 20

// parseCarrierForm accepts urlencoded and multipart bodies.
func parseCarrierForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	err := r.ParseMultipartForm(maxWebhookBody)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	return nil
}

// field returns the first non-empty form or query value among names.
// Carriers disagree on casing, so callers list every spelling.
func field(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(r.FormValue(n)); v != "" {
			return v
		}
	}
	return ""
}

func flag(r *http.Request, names ...string) bool {
	b, _ := strconv.ParseBool(field(r, names...))
	return b
}

// ── Carrier → domain ─────────────────────────────────────────────────────────

func inboundFromForm(r *http.Request) orchestrator.InboundCall {
	return orchestrator.InboundCall{
		CallID:            field(r, "CallSid", "CallId", "call_id"),
		CallControlID:     field(r, "CallControlId", "call_control_id"),
		TenantID:          field(r, "tenant_id", "TenantId"),
		Industry:          field(r, "industry", "Industry"),
		Region:            field(r, "region", "Region"),
		Language:          field(r, "language", "Language"),
		From:              field(r, "From", "from"),
		To:                field(r, "To", "to"),
		SpeechRecognition: flag(r, "speech_recognition", "SpeechRecognition"),
	}
}

func digits(r *http.Request) string { return field(r, "Digits", "digits") }

func speech(r *http.Request) string { return field(r, "SpeechResult", "speech_result") }

func recordingFromForm(r *http.Request) orchestrator.RecordingInfo {
	dur, _ := strconv.Atoi(field(r, "RecordingDuration", "recording_duration"))
	return orchestrator.RecordingInfo{
		URL:        field(r, "RecordingUrl", "recording_url"),
		Duration:   dur,
		Transcript: field(r, "TranscriptionText", "transcription_text"),
	}
}

// sessionStatus maps a carrier CallStatus to the session status it ends
// the call with. Non-terminal statuses report false.
func sessionStatus(callStatus string) (types.SessionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(callStatus)) {
	case "completed":
		return types.StatusCompleted, true
	case "busy", "no-answer", "failed", "canceled", "cancelled":
		return types.StatusFailed, true
	}
	return "", false
}

func sideEffects(r *http.Request) []string {
	raw := field(r, "SideEffects", "side_effects")
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
