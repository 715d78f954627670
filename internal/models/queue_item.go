package models

import "time"

// ItemKind identifies the dispatch operation a queued item is replayed through
type ItemKind string

const (
	KindAlertDispatch ItemKind = "alert_dispatch"
	KindRecordUpload  ItemKind = "record_upload"
)

// QueueItem is an outbound work item waiting for the dispatch channel
type QueueItem struct {
	ID           string    `json:"id"`
	Kind         ItemKind  `json:"kind"`
	Payload      []byte    `json:"payload"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
	AttemptCount int       `json:"attemptCount"`
}
