package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/models"
)

var ErrRecordNotFound = errors.New("sealed record not found")

// RecordRepository persists sealed trust packets. Records are insert-only.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) Save(ctx context.Context, packet *models.TrustPacket) error {
	if packet.Digest == "" {
		return fmt.Errorf("refusing to store unsealed record %s", packet.EventID)
	}

	data, err := json.Marshal(packet)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sealed_records (event_id, digest, record_data, created_at)
		VALUES (?, ?, ?, ?)
	`, packet.EventID, packet.Digest, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

func (r *RecordRepository) Latest(ctx context.Context) (*models.TrustPacket, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT record_data FROM sealed_records ORDER BY seq DESC LIMIT 1
	`))
}

func (r *RecordRepository) GetByEventID(ctx context.Context, eventID string) (*models.TrustPacket, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT record_data FROM sealed_records WHERE event_id = ?
	`, eventID))
}

func (r *RecordRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sealed_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func (r *RecordRepository) scanOne(row *sql.Row) (*models.TrustPacket, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load record: %w", err)
	}

	var packet models.TrustPacket
	if err := json.Unmarshal([]byte(data), &packet); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &packet, nil
}
