// Package sealer computes and verifies the tamper-evidence digest of trust packets.
package sealer

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"Mansoor88-6/crash-sentinel-agent/internal/models"
)

var ErrDigestMismatch = errors.New("trust packet digest mismatch")

// canonicalPacket mirrors models.TrustPacket without the digest. Field order
// here defines the serialization order and must not change.
type canonicalPacket struct {
	EventID   string          `json:"eventId"`
	Timestamp string          `json:"timestamp"`
	Location  models.Location `json:"location"`
	Evidence  models.Evidence `json:"evidence"`
	Metadata  models.Metadata `json:"metadata"`
}

// Canonical returns the serialization the digest is computed over
func Canonical(p *models.TrustPacket) ([]byte, error) {
	data, err := json.Marshal(canonicalPacket{
		EventID:   p.EventID,
		Timestamp: p.Timestamp,
		Location:  p.Location,
		Evidence:  p.Evidence,
		Metadata:  p.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize trust packet: %w", err)
	}
	return data, nil
}

// Digest returns the hex SHA-256 of the packet's canonical serialization
func Digest(p *models.TrustPacket) (string, error) {
	data, err := Canonical(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal returns a copy of the packet with its digest attached. Any digest
// already present on the input is ignored.
func Seal(p *models.TrustPacket) (*models.TrustPacket, error) {
	digest, err := Digest(p)
	if err != nil {
		return nil, err
	}
	sealed := *p
	sealed.Evidence.Photo = slices.Clone(p.Evidence.Photo)
	sealed.Digest = digest
	return &sealed, nil
}

// Verify recomputes the digest and reports ErrDigestMismatch when it differs
func Verify(p *models.TrustPacket) error {
	digest, err := Digest(p)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(digest), []byte(p.Digest)) != 1 {
		return fmt.Errorf("%w: event %s", ErrDigestMismatch, p.EventID)
	}
	return nil
}
