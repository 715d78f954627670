package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/models"

	"go.uber.org/zap"
)

// ErrUnavailable marks failures expected to clear once connectivity recovers.
// Callers queue the item instead of reporting it.
var ErrUnavailable = errors.New("dispatch channel unavailable")

// AlertRequest is the alert body sent to the backend
type AlertRequest struct {
	DeviceID  string          `json:"deviceId"`
	EventID   string          `json:"eventId"`
	Timestamp string          `json:"timestamp"`
	Location  models.Location `json:"location"`
	Digest    string          `json:"digest"`
}

// RecordUploadRequest wraps a full sealed record for upload
type RecordUploadRequest struct {
	DeviceID string              `json:"deviceId"`
	Record   *models.TrustPacket `json:"record"`
}

// APIClient handles communication with the alert backend
type APIClient struct {
	baseURL     string
	apiKey      string
	deviceID    string
	deviceToken string
	timeout     time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL, apiKey, deviceID string, timeout time.Duration, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		deviceID: deviceID,
		timeout:  timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SetDeviceToken sets the device bearer token
func (c *APIClient) SetDeviceToken(token string) {
	c.deviceToken = token
}

// SendAlert notifies the backend that a crash was confirmed
func (c *APIClient) SendAlert(ctx context.Context, packet *models.TrustPacket) error {
	return c.post(ctx, "/api/v1/alerts", packet.EventID, AlertRequest{
		DeviceID:  c.deviceID,
		EventID:   packet.EventID,
		Timestamp: packet.Timestamp,
		Location:  packet.Location,
		Digest:    packet.Digest,
	})
}

// UploadRecord uploads the full sealed record
func (c *APIClient) UploadRecord(ctx context.Context, packet *models.TrustPacket) error {
	return c.post(ctx, "/api/v1/records", packet.EventID, RecordUploadRequest{
		DeviceID: c.deviceID,
		Record:   packet,
	})
}

func (c *APIClient) post(ctx context.Context, path, eventID string, body any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	// Prefer device token over API key
	if c.deviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.deviceToken)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Dispatch request failed",
			zap.Error(err),
			zap.String("path", path),
			zap.String("event_id", eventID),
			zap.Duration("duration", duration),
		)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info("Dispatch succeeded",
			zap.String("path", path),
			zap.String("event_id", eventID),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return nil
	}

	errMsg := fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, string(respBody))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		c.logger.Error("Authentication failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)),
		)
		return &AuthError{Message: errMsg, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("Rate limited",
			zap.Int("status_code", resp.StatusCode),
		)
		return &RateLimitError{Message: errMsg, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		c.logger.Warn("Backend error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)),
		)
		return &BackendError{Message: errMsg, StatusCode: resp.StatusCode}
	default:
		c.logger.Error("Invalid request",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)),
		)
		return &BadRequestError{Message: errMsg, StatusCode: resp.StatusCode}
	}
}

// HealthCheck checks if the backend is reachable
func (c *APIClient) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// Error types
type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Message
}

type RateLimitError struct {
	Message    string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return e.Message
}

func (e *RateLimitError) Unwrap() error {
	return ErrUnavailable
}

type BadRequestError struct {
	Message    string
	StatusCode int
}

func (e *BadRequestError) Error() string {
	return e.Message
}

type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return e.Message
}

func (e *BackendError) Unwrap() error {
	return ErrUnavailable
}
