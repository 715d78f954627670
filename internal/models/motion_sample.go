package models

import "time"

// MotionSample is a single gravity-compensated accelerometer and gyroscope reading.
type MotionSample struct {
	Timestamp time.Time `json:"-"`
	AccelX    float64   `json:"accelX"` // m/s²
	AccelY    float64   `json:"accelY"`
	AccelZ    float64   `json:"accelZ"`
	RotAlpha  float64   `json:"rotAlpha"` // deg/s
	RotBeta   float64   `json:"rotBeta"`
	RotGamma  float64   `json:"rotGamma"`
}

// MotionEvent is the wire shape posted by the sensor bridge
type MotionEvent struct {
	Timestamp int64   `json:"timestamp"` // Unix timestamp in milliseconds
	AccelX    float64 `json:"accelX"`
	AccelY    float64 `json:"accelY"`
	AccelZ    float64 `json:"accelZ"`
	RotAlpha  float64 `json:"rotAlpha"`
	RotBeta   float64 `json:"rotBeta"`
	RotGamma  float64 `json:"rotGamma"`
}

// MotionBatchRequest represents a batch of motion events from the sensor bridge
type MotionBatchRequest struct {
	Samples []MotionEvent `json:"samples"`
}

// Sample converts the wire event into a MotionSample
func (e MotionEvent) Sample() MotionSample {
	return MotionSample{
		Timestamp: time.UnixMilli(e.Timestamp),
		AccelX:    e.AccelX,
		AccelY:    e.AccelY,
		AccelZ:    e.AccelZ,
		RotAlpha:  e.RotAlpha,
		RotBeta:   e.RotBeta,
		RotGamma:  e.RotGamma,
	}
}
