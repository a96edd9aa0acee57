package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for receiver persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByUUID retrieves a receiver by its identifier.
	// Returns ErrReceiverNotFound if the receiver does not exist.
	GetByUUID(ctx context.Context, uuid string) (*Receiver, error)

	// List retrieves all known receivers, most recently seen first.
	List(ctx context.Context) ([]Receiver, error)

	// Upsert records a sighting: inserts a new receiver or refreshes the
	// name, model, address, and last-seen timestamp of an existing one.
	Upsert(ctx context.Context, receiver *Receiver) error

	// Delete removes a receiver by UUID.
	// Returns ErrReceiverNotFound if the receiver does not exist.
	Delete(ctx context.Context, uuid string) error

	// Prune removes receivers not seen since the cutoff and returns how
	// many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the
// cast_receivers schema applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByUUID retrieves a receiver by its identifier.
func (r *SQLiteRepository) GetByUUID(ctx context.Context, uuid string) (*Receiver, error) {
	query := `
		SELECT uuid, name, model, ip_address, port, first_seen, last_seen
		FROM cast_receivers
		WHERE uuid = ?`

	row := r.db.QueryRowContext(ctx, query, uuid)
	receiver, err := scanReceiver(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiverNotFound
		}
		return nil, fmt.Errorf("querying receiver by uuid: %w", err)
	}
	return receiver, nil
}

// List retrieves all known receivers, most recently seen first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Receiver, error) {
	query := `
		SELECT uuid, name, model, ip_address, port, first_seen, last_seen
		FROM cast_receivers
		ORDER BY last_seen DESC, name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying receivers: %w", err)
	}
	defer rows.Close()

	var receivers []Receiver
	for rows.Next() {
		receiver, err := scanReceiver(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receiver row: %w", err)
		}
		receivers = append(receivers, *receiver)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receivers: %w", err)
	}
	return receivers, nil
}

// Upsert records a sighting. First-seen is preserved across updates;
// everything else reflects the latest advertisement.
func (r *SQLiteRepository) Upsert(ctx context.Context, receiver *Receiver) error {
	if receiver == nil || !receiver.Valid() {
		return ErrInvalidReceiver
	}

	now := time.Now().UTC()
	if receiver.LastSeen.IsZero() {
		receiver.LastSeen = now
	}
	if receiver.FirstSeen.IsZero() {
		receiver.FirstSeen = receiver.LastSeen
	}

	query := `
		INSERT INTO cast_receivers (uuid, name, model, ip_address, port, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			model = excluded.model,
			ip_address = excluded.ip_address,
			port = excluded.port,
			last_seen = excluded.last_seen`

	_, err := r.db.ExecContext(ctx, query,
		receiver.UUID,
		receiver.Name,
		receiver.Model,
		receiver.IPAddress,
		receiver.Port,
		receiver.FirstSeen.UTC().Format(time.RFC3339),
		receiver.LastSeen.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting receiver: %w", err)
	}
	return nil
}

// Delete removes a receiver by UUID.
func (r *SQLiteRepository) Delete(ctx context.Context, uuid string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM cast_receivers WHERE uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("deleting receiver: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrReceiverNotFound
	}
	return nil
}

// Prune removes receivers not seen since the cutoff.
func (r *SQLiteRepository) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM cast_receivers WHERE last_seen < ?",
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning receivers: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking prune result: %w", err)
	}
	return int(affected), nil
}

// scanner abstracts sql.Row and sql.Rows for scanReceiver.
type scanner interface {
	Scan(dest ...any) error
}

// scanReceiver scans one receiver row.
func scanReceiver(row scanner) (*Receiver, error) {
	var r Receiver
	var firstSeen, lastSeen string

	if err := row.Scan(
		&r.UUID, &r.Name, &r.Model, &r.IPAddress, &r.Port,
		&firstSeen, &lastSeen,
	); err != nil {
		return nil, err
	}

	// Parse timestamps - format is controlled by Upsert
	r.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen) //nolint:errcheck // Format is controlled
	r.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)   //nolint:errcheck // Format is controlled
	return &r, nil
}
