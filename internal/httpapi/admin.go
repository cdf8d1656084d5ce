package httpapi

import (
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/redact"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// DigestHeader carries "blake3=<hex>" of the uncompressed export body.
const DigestHeader = "X-Export-Digest"

// Digest returns the DigestHeader value for body.
func Digest(body []byte) string {
	sum := blake3.Sum256(body)
	return "blake3=" + hex.EncodeToString(sum[:])
}

func writeExport(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set(DigestHeader, Digest(body))
	if filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ── Audit ────────────────────────────────────────────────────────────────────

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := s.audit.VerifyChain(r.Context(), r.PathValue("tenantId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", err.Error())
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", err.Error())
		return
	}
	rep, err := s.audit.ComplianceReport(r.Context(), r.PathValue("tenantId"), from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCallTrail(w http.ResponseWriter, r *http.Request) {
	events, err := s.audit.GetCallAuditTrail(r.Context(), r.PathValue("tenantId"), r.PathValue("callId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []types.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleAuditExport serves the tenant's events as JSON (default), CSV
// (?format=csv) or a protobuf ListValue (Accept: application/x-protobuf).
// Optional from/to bound the timestamps and event_type filters by type.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	q := r.URL.Query()
	f := types.AuditFilter{TenantID: tenantID, CallID: q.Get("call_id")}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", err.Error())
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", err.Error())
		return
	}
	for _, et := range q["event_type"] {
		f.EventTypes = append(f.EventTypes, types.EventType(et))
	}
	if strings.TrimSpace(tenantID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_tenant", "tenant_id is required")
		return
	}

	if wantsProtobuf(r) {
		events, err := s.audit.SearchEvents(r.Context(), f)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		list, err := eventsToProto(events)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		body, err := marshalProto(list)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeExport(w, protobufContentType, "", body)
		return
	}

	format := strings.ToLower(q.Get("format"))
	body, err := s.audit.Export(r.Context(), f, format)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if format == "csv" {
		writeExport(w, "text/csv", "audit-"+tenantID+".csv", body)
		return
	}
	writeExport(w, "application/json", "", body)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// ── Consents ─────────────────────────────────────────────────────────────────

func (s *Server) handleConsentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.consents.GetConsentStatus(r.Context(), r.PathValue("customerId"), r.PathValue("tenantId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleConsentExport(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	format := strings.ToLower(r.URL.Query().Get("format"))
	body, err := s.consents.ExportConsents(r.Context(), tenantID, format)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if format == "csv" {
		writeExport(w, "text/csv", "consents-"+tenantID+".csv", body)
		return
	}
	writeExport(w, "application/json", "", body)
}

func (s *Server) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	var req types.ConsentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	rec, err := s.consents.RecordConsent(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type revokeRequest struct {
	CustomerID  string               `json:"customer_id"`
	TenantID    string               `json:"tenant_id"`
	ConsentType types.ConsentType    `json:"consent_type"`
	Channel     types.ConsentChannel `json:"channel"`
}

func (s *Server) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	rec, err := s.consents.RevokeConsent(r.Context(), req.CustomerID, req.TenantID, req.ConsentType, req.Channel)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ── Redaction and reminders ──────────────────────────────────────────────────

type redactRequest struct {
	Content   string            `json:"content"`
	DataTypes []redact.DataType `json:"data_types,omitempty"`
	Industry  string            `json:"industry,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	CallID    string            `json:"call_id,omitempty"`
}

// handleRedact scrubs content with the requested types, or the industry's
// categories when none are given. Nothing is audited: the content never
// reaches a call.
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	dt := req.DataTypes
	if len(dt) == 0 {
		dt = redact.CategoriesFor(req.Industry)
	}
	res := redact.Redact(redact.Request{Content: req.Content, DataTypes: dt, TenantID: req.TenantID, CallID: req.CallID})
	writeJSON(w, http.StatusOK, res)
}

type reminderRequest struct {
	TenantID      string                  `json:"tenant_id"`
	CallID        string                  `json:"call_id,omitempty"`
	PatientID     string                  `json:"patient_id"`
	Type          healthcare.ReminderType `json:"reminder_type"`
	ScheduledAt   time.Time               `json:"scheduled_at"`
	Channels      []healthcare.Channel    `json:"channels,omitempty"`
	Message       string                  `json:"message,omitempty"`
	AppointmentID string                  `json:"appointment_id,omitempty"`
	MedicationID  string                  `json:"medication_id,omitempty"`
	Confirm       bool                    `json:"confirmation_required,omitempty"`
}

func (s *Server) handleScheduleReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	cc := types.CallContext{CallID: req.CallID, TenantID: req.TenantID, CustomerID: req.PatientID}
	rem, err := s.orch.ScheduleReminder(r.Context(), cc, healthcare.ReminderRequest{
		PatientID:            req.PatientID,
		Type:                 req.Type,
		ScheduledAt:          req.ScheduledAt,
		Channels:             req.Channels,
		Message:              req.Message,
		AppointmentID:        req.AppointmentID,
		MedicationID:         req.MedicationID,
		ConfirmationRequired: req.Confirm,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}
