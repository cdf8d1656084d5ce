package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/tetrixcorps/compliantivr/internal/ivr/orchestrator"
	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
)

type Dependencies struct {
	Logger       *slog.Logger
	Addr         string
	Orchestrator *orchestrator.Orchestrator
	Audit        *service.AuditLog
	Consents     *service.ConsentLedger
	// WebhookSecret enables the X-IVR-Signature check on carrier routes.
	WebhookSecret string
	// Ready reports whether the backing store is reachable. nil means always.
	Ready func(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux
	orch       *orchestrator.Orchestrator
	audit      *service.AuditLog
	consents   *service.ConsentLedger
	ready      func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		logger:   logger,
		mux:      mux,
		orch:     d.Orchestrator,
		audit:    d.Audit,
		consents: d.Consents,
		ready:    d.Ready,
	}

	// Carrier webhooks: always 200 text/xml.
	hook := func(pattern string, h webhookFunc) {
		mux.Handle(pattern, signatureMiddleware(logger, d.WebhookSecret, s.webhook(h)))
	}
	hook("POST /api/ivr/inbound", s.handleInbound)
	hook("POST /api/ivr/{callId}/verify", s.handleVerify)
	hook("POST /api/ivr/{callId}/consent", s.handleConsent)
	hook("POST /api/ivr/{callId}/step/{step}", s.handleStep)
	hook("POST /api/ivr/{callId}/gather", s.handleGather)
	hook("POST /api/ivr/{callId}/recording", s.handleRecording)
	hook("POST /api/ivr/{callId}/status", s.handleStatus)
	hook("POST /api/ivr/{callId}/schedule", s.handleSchedule)
	hook("POST /api/ivr/{callId}/triage/{condition}", s.handleTriageStart)
	hook("POST /api/triage/{sessionId}/answer", s.handleTriageAnswer)
	hook("POST /api/healthcare/adherence/{scheduleId}/check", s.handleAdherenceCheck)
	hook("POST /api/healthcare/adherence/{checkId}/response", s.handleAdherenceResponse)
	hook("POST /api/healthcare/adherence/{scheduleId}/refill", s.handleRefill)

	// Admin JSON.
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/audit/{tenantId}/verify", s.handleVerifyChain)
	mux.HandleFunc("GET /v1/audit/{tenantId}/report", s.handleComplianceReport)
	mux.HandleFunc("GET /v1/audit/{tenantId}/calls/{callId}", s.handleCallTrail)
	mux.Handle("GET /v1/audit/{tenantId}/export", gzhttp.GzipHandler(http.HandlerFunc(s.handleAuditExport)))
	mux.HandleFunc("GET /v1/consents/{tenantId}/{customerId}", s.handleConsentStatus)
	mux.Handle("GET /v1/consents/{tenantId}/export", gzhttp.GzipHandler(http.HandlerFunc(s.handleConsentExport)))
	mux.HandleFunc("POST /v1/consents", s.handleRecordConsent)
	mux.HandleFunc("POST /v1/consents/revoke", s.handleRevokeConsent)
	mux.HandleFunc("POST /v1/redact", s.handleRedact)
	mux.HandleFunc("POST /v1/reminders", s.handleScheduleReminder)

	handler := loggingMiddleware(logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
