package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"Mansoor88-6/crash-sentinel-agent/internal/models"
	"Mansoor88-6/crash-sentinel-agent/internal/notify"
	"Mansoor88-6/crash-sentinel-agent/internal/repository"
	"Mansoor88-6/crash-sentinel-agent/internal/sealer"
	"Mansoor88-6/crash-sentinel-agent/internal/session"

	"go.uber.org/zap"
)

// SessionController is the operator surface of the monitoring session
type SessionController interface {
	Trigger() error
	Cancel() error
	Reset() error
	Status(ctx context.Context) session.Status
}

// RecordReader loads persisted sealed records
type RecordReader interface {
	Latest(ctx context.Context) (*models.TrustPacket, error)
}

// NoticeLister returns recent operator notices
type NoticeLister interface {
	Recent() []notify.Notice
}

// LatestRecordResponse is a sealed record with the result of re-verifying its digest
type LatestRecordResponse struct {
	Record      *models.TrustPacket `json:"record"`
	Verified    bool                `json:"verified"`
	VerifyError string              `json:"verifyError,omitempty"`
}

type SessionHandler struct {
	session SessionController
	records RecordReader
	notices NoticeLister
	logger  *zap.Logger
}

func NewSessionHandler(s SessionController, records RecordReader, notices NoticeLister, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		session: s,
		records: records,
		notices: notices,
		logger:  logger,
	}
}

// Trigger handles POST /api/v1/session/trigger (manual SOS)
func (h *SessionHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "trigger", h.session.Trigger)
}

// Cancel handles POST /api/v1/session/cancel
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", h.session.Cancel)
}

// Reset handles POST /api/v1/session/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reset", h.session.Reset)
}

func (h *SessionHandler) transition(w http.ResponseWriter, r *http.Request, action string, fn func() error) {
	if err := fn(); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrCaptureInProgress):
			status = http.StatusConflict
		case errors.Is(err, session.ErrClosed):
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("Session action rejected", zap.String("action", action), zap.Error(err))
		respondError(w, status, err.Error())
		return
	}

	h.logger.Info("Session action applied", zap.String("action", action))
	respondJSON(w, http.StatusOK, h.session.Status(r.Context()))
}

// Status handles GET /api/v1/status
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session.Status(r.Context()))
}

// LatestRecord handles GET /api/v1/records/latest
func (h *SessionHandler) LatestRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.records.Latest(r.Context())
	if errors.Is(err, repository.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "No sealed record yet")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load latest record", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to load record")
		return
	}

	resp := LatestRecordResponse{Record: record, Verified: true}
	if err := sealer.Verify(record); err != nil {
		resp.Verified = false
		resp.VerifyError = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Notices handles GET /api/v1/notices
func (h *SessionHandler) Notices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notices": h.notices.Recent(),
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
