package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"Mansoor88-6/crash-sentinel-agent/internal/models"
	"Mansoor88-6/crash-sentinel-agent/internal/sensors"

	"go.uber.org/zap"
)

const maxBatchSamples = 500

// MotionPublisher accepts motion batches from the sensor bridge
type MotionPublisher interface {
	Publish(events []models.MotionEvent) (int, error)
}

// LocationUpdater accepts position fixes from the companion device
type LocationUpdater interface {
	Update(pos models.Position) error
}

// SensorServer handles HTTP intake from the companion sensor bridge
type SensorServer struct {
	motion   MotionPublisher
	location LocationUpdater
	logger   *zap.Logger
}

// NewSensorServer creates a new sensor intake server
func NewSensorServer(motion MotionPublisher, location LocationUpdater, logger *zap.Logger) *SensorServer {
	return &SensorServer{
		motion:   motion,
		location: location,
		logger:   logger,
	}
}

// HandleMotion processes POST /api/v1/motion
func (s *SensorServer) HandleMotion(w http.ResponseWriter, r *http.Request) {
	var req models.MotionBatchRequest

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		s.logger.Warn("Failed to decode motion batch", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Samples) == 0 {
		http.Error(w, "Missing samples", http.StatusBadRequest)
		return
	}
	if len(req.Samples) > maxBatchSamples {
		http.Error(w, "Too many samples in batch", http.StatusRequestEntityTooLarge)
		return
	}
	for _, e := range req.Samples {
		if e.Timestamp <= 0 {
			s.logger.Warn("Rejected malformed motion sample", zap.Int64("timestamp", e.Timestamp))
			http.Error(w, "Invalid motion sample", http.StatusBadRequest)
			return
		}
	}

	accepted, err := s.motion.Publish(req.Samples)
	if errors.Is(err, sensors.ErrFeedStopped) {
		http.Error(w, "Motion feed not running", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.logger.Error("Failed to publish motion batch", zap.Error(err))
		http.Error(w, "Failed to accept samples", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Motion batch received",
		zap.Int("samples", len(req.Samples)),
		zap.Int("accepted", accepted),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"accepted": accepted,
		"dropped":  len(req.Samples) - accepted,
	})
}

// HandleLocation processes POST /api/v1/location
func (s *SensorServer) HandleLocation(w http.ResponseWriter, r *http.Request) {
	var pos models.Position

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&pos); err != nil {
		s.logger.Warn("Failed to decode location update", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.location.Update(pos); err != nil {
		if errors.Is(err, sensors.ErrInvalidPosition) {
			http.Error(w, "Invalid position", http.StatusBadRequest)
			return
		}
		s.logger.Error("Failed to store location", zap.Error(err))
		http.Error(w, "Failed to store location", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}
