package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// statsTimeout bounds the store queries behind /stats and /healthz.
const statsTimeout = 5 * time.Second

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	slog.Warn("Server method not allowed", "method", r.Method, "path", r.URL.Path)
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	}
	statusCode := http.StatusOK
	if _, err := s.st.ListParticipants(ctx); err != nil {
		slog.Warn("Health check: store unavailable", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to reach store"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, healthData)
}

// statsHandler returns participant, submission and delivery counts (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	participants, err := s.st.ListParticipants(ctx)
	if err != nil {
		slog.Error("Server.statsHandler: failed to list participants", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch participants")
		return
	}
	submissions, err := s.st.ListSubmissions(ctx)
	if err != nil {
		slog.Error("Server.statsHandler: failed to list submissions", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch submissions")
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.statsHandler: failed to list receipts", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch receipts")
		return
	}

	perStatus := make(map[models.MessageStatus]int)
	for _, rc := range receipts {
		perStatus[rc.Status]++
	}
	respondents := make(map[string]struct{})
	for _, sub := range submissions {
		respondents[sub.ParticipantID] = struct{}{}
	}
	stats := map[string]interface{}{
		"participants":       len(participants),
		"submissions":        len(submissions),
		"respondents":        len(respondents),
		"receipts":           len(receipts),
		"receipts_by_status": perStatus,
	}
	if s.activeSessions != nil {
		stats["active_sessions"] = s.activeSessions()
	}
	slog.Debug("Server.statsHandler: stats computed", "participants", len(participants), "submissions", len(submissions))
	writeJSON(w, http.StatusOK, models.Success(stats))
}

// receiptsHandler returns every stored delivery receipt (GET /receipts).
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch receipts")
		return
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	writeJSON(w, http.StatusOK, models.Success(receipts))
}

// twilioHandler forwards POST /webhook/twilio to the Twilio transport.
func (s *Server) twilioHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.twilioWebhook(w, r)
}
