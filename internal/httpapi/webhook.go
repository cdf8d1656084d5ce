package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/tetrixcorps/compliantivr/internal/ivr/orchestrator"
	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/texml"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

const markupContentType = "text/xml; charset=utf-8"

type webhookFunc func(ctx context.Context, r *http.Request) (orchestrator.Response, error)

// webhook adapts a carrier handler. The carrier always gets 200 and a
// markup document; errors are logged and the orchestrator's fallback
// markup is served.
func (s *Server) webhook(h webhookFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := parseCarrierForm(w, r); err != nil {
			s.logger.Warn("webhook form rejected", "path", r.URL.Path, "error", err)
			writeApology(w)
			return
		}
		resp, err := h(r.Context(), r)
		if err != nil {
			s.logger.Warn("webhook error", "path", r.URL.Path, "error", err)
		}
		if resp.Markup == "" {
			writeApology(w)
			return
		}
		writeMarkup(w, resp.Markup)
	})
}

func writeMarkup(w http.ResponseWriter, markup string) {
	w.Header().Set("Content-Type", markupContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markup))
}

func writeApology(w http.ResponseWriter) {
	writeMarkup(w, texml.Apology(""))
}

// ── Compliance flow ──────────────────────────────────────────────────────────

func (s *Server) handleInbound(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	return s.orch.HandleInbound(ctx, inboundFromForm(r))
}

func (s *Server) handleVerify(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	return s.orch.VerifyIdentity(ctx, r.PathValue("callId"), digits(r))
}

// handleConsent treats "1" as a grant and anything else as a denial.
func (s *Server) handleConsent(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	granted := digits(r) == "1"
	consentType := types.ConsentType(field(r, "consent_type"))
	return s.orch.CaptureConsent(ctx, r.PathValue("callId"), granted, consentType)
}

func (s *Server) handleStep(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	input := digits(r)
	if input == "" {
		input = speech(r)
	}
	return s.orch.HandleStep(ctx, r.PathValue("callId"), r.PathValue("step"), input)
}

func (s *Server) handleGather(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	return s.orch.HandleGather(ctx, r.PathValue("callId"), digits(r), speech(r))
}

func (s *Server) handleRecording(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	return s.orch.HandleRecording(ctx, r.PathValue("callId"), recordingFromForm(r))
}

// handleStatus closes the session on a terminal CallStatus. Unknown calls
// and non-terminal statuses are acknowledged with an empty document.
func (s *Server) handleStatus(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	ack := orchestrator.Response{Markup: texml.New("").String()}
	status, terminal := sessionStatus(field(r, "CallStatus", "call_status"))
	if !terminal {
		return ack, nil
	}
	err := s.orch.EndCall(ctx, r.PathValue("callId"), status)
	if errors.Is(err, service.ErrSessionNotFound) {
		err = nil
	}
	return ack, err
}

// ── Healthcare ───────────────────────────────────────────────────────────────

func (s *Server) handleSchedule(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	return s.orch.ScheduleFromTriage(ctx, r.PathValue("callId"), digits(r))
}

func (s *Server) handleTriageStart(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	return s.orch.StartTriage(ctx, r.PathValue("callId"), r.PathValue("condition"))
}

func (s *Server) handleTriageAnswer(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	input := digits(r)
	if input == "" {
		input = speech(r)
	}
	return s.orch.AnswerTriage(ctx, r.PathValue("sessionId"), input)
}

func (s *Server) handleAdherenceCheck(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	return s.orch.StartAdherenceCheck(ctx, r.PathValue("scheduleId"))
}

func (s *Server) handleAdherenceResponse(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	return s.orch.AdherenceResponse(ctx, r.PathValue("checkId"), digits(r), sideEffects(r),
		field(r, "SideEffectSeverity", "side_effect_severity"))
}

func (s *Server) handleRefill(ctx context.Context, r *http.Request) (orchestrator.Response, error) {
	by := field(r, "requested_by")
	if by == "" {
		by = "patient"
	}
	return s.orch.RequestRefill(ctx, r.PathValue("scheduleId"), by)
}
