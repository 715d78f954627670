package sealer

import (
	"encoding/json"
	"strings"
	"testing"

	"Mansoor88-6/crash-sentinel-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func packet() *models.TrustPacket {
	return &models.TrustPacket{
		EventID:   "evt_1767225600000_a1b2c3d4",
		Timestamp: "2026-01-01T00:00:00.000Z",
		Location: models.Location{
			Lat:      ptr(52.520008),
			Lon:      ptr(13.404954),
			Accuracy: ptr(12.5),
		},
		Evidence: models.Evidence{
			Photo:          []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10},
			AudioSignature: "sha256:9f86d081884c7d65",
		},
		Metadata: models.Metadata{
			AgentInfo:      "crash-sentinel/1.0.0 (linux/arm64)",
			DeviceInfo:     "Linux 6.1.0 aarch64",
			CaptureDelayMs: 1184,
		},
	}
}

func TestCanonical_FixedFieldOrderWithoutDigest(t *testing.T) {
	p := packet()
	p.Digest = "ignored"

	data, err := Canonical(p)
	require.NoError(t, err)

	s := string(data)
	assert.NotContains(t, s, "digest")
	order := []string{`"eventId"`, `"timestamp"`, `"location"`, `"lat"`, `"lon"`, `"accuracy"`,
		`"evidence"`, `"photo"`, `"audioSignature"`, `"metadata"`, `"agentInfo"`, `"deviceInfo"`, `"captureDelayMs"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(s, key)
		require.Greater(t, idx, last, "field %s out of order in %s", key, s)
		last = idx
	}
}

func TestCanonical_NullLocation(t *testing.T) {
	p := packet()
	p.Location = models.Location{}

	data, err := Canonical(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"location":{"lat":null,"lon":null,"accuracy":null}`)
}

func TestSeal_Deterministic(t *testing.T) {
	a, err := Seal(packet())
	require.NoError(t, err)
	b, err := Seal(packet())
	require.NoError(t, err)

	assert.Len(t, a.Digest, 64)
	assert.Equal(t, a.Digest, b.Digest)

	// Re-sealing a sealed packet reproduces the same digest
	c, err := Seal(a)
	require.NoError(t, err)
	assert.Equal(t, a.Digest, c.Digest)
}

func TestSeal_DoesNotMutateInput(t *testing.T) {
	p := packet()
	_, err := Seal(p)
	require.NoError(t, err)
	assert.Empty(t, p.Digest)
}

func TestSeal_PhotoNotSharedWithInput(t *testing.T) {
	p := packet()
	sealed, err := Seal(p)
	require.NoError(t, err)

	p.Evidence.Photo[0] = 0x00
	p.Evidence.Photo = append(p.Evidence.Photo[:2], 0x01)

	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}, sealed.Evidence.Photo)
	assert.NoError(t, Verify(sealed))
}

func TestSeal_AnyFieldChangeChangesDigest(t *testing.T) {
	base, err := Seal(packet())
	require.NoError(t, err)

	mutations := map[string]func(p *models.TrustPacket){
		"event id":        func(p *models.TrustPacket) { p.EventID = "evt_1767225600000_a1b2c3d5" },
		"timestamp":       func(p *models.TrustPacket) { p.Timestamp = "2026-01-01T00:00:00.001Z" },
		"latitude":        func(p *models.TrustPacket) { p.Location.Lat = ptr(52.520009) },
		"longitude":       func(p *models.TrustPacket) { p.Location.Lon = ptr(13.404955) },
		"accuracy":        func(p *models.TrustPacket) { p.Location.Accuracy = nil },
		"photo":           func(p *models.TrustPacket) { p.Evidence.Photo[5] = 0x11 },
		"audio signature": func(p *models.TrustPacket) { p.Evidence.AudioSignature = "unavailable" },
		"agent info":      func(p *models.TrustPacket) { p.Metadata.AgentInfo = "crash-sentinel/1.0.1 (linux/arm64)" },
		"device info":     func(p *models.TrustPacket) { p.Metadata.DeviceInfo = "Linux 6.1.1 aarch64" },
		"capture delay":   func(p *models.TrustPacket) { p.Metadata.CaptureDelayMs = 1185 },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := packet()
			mutate(p)
			sealed, err := Seal(p)
			require.NoError(t, err)
			assert.NotEqual(t, base.Digest, sealed.Digest)
		})
	}
}

func TestVerify(t *testing.T) {
	sealed, err := Seal(packet())
	require.NoError(t, err)
	require.NoError(t, Verify(sealed))

	// Survives a JSON round trip through storage
	data, err := json.Marshal(sealed)
	require.NoError(t, err)
	var restored models.TrustPacket
	require.NoError(t, json.Unmarshal(data, &restored))
	require.NoError(t, Verify(&restored))

	restored.Metadata.CaptureDelayMs++
	assert.ErrorIs(t, Verify(&restored), ErrDigestMismatch)
}
