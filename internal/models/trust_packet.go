package models

// TrustPacket is the sealed evidence record produced for a confirmed crash.
// Field order is significant: the digest covers every other field serialized
// in declaration order.
type TrustPacket struct {
	EventID   string   `json:"eventId"`
	Timestamp string   `json:"timestamp"` // ISO-8601, UTC
	Location  Location `json:"location"`
	Evidence  Evidence `json:"evidence"`
	Metadata  Metadata `json:"metadata"`
	Digest    string   `json:"digest"`
}

// Location holds a best-effort position fix. Every field is nil when no fix was available.
type Location struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Accuracy *float64 `json:"accuracy"`
}

// Evidence holds the captured sensory payloads
type Evidence struct {
	Photo          []byte `json:"photo"`
	AudioSignature string `json:"audioSignature"`
}

// Metadata describes the capturing agent and device
type Metadata struct {
	AgentInfo      string `json:"agentInfo"`
	DeviceInfo     string `json:"deviceInfo"`
	CaptureDelayMs int64  `json:"captureDelayMs"`
}

// HasFix reports whether the location carries coordinates
func (l Location) HasFix() bool {
	return l.Lat != nil && l.Lon != nil
}

// Position is a location fix returned by a location source
type Position struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Accuracy float64 `json:"accuracy"`
}

// Location converts a fix into the nullable record form
func (p Position) Location() Location {
	lat, lon, acc := p.Lat, p.Lon, p.Accuracy
	return Location{Lat: &lat, Lon: &lon, Accuracy: &acc}
}
