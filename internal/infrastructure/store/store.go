// Package store persists pipeline events in PostgreSQL.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// writeTimeout bounds a single insert issued from the event bus
const writeTimeout = 5 * time.Second

// Store manages the PostgreSQL connection. pgx.Conn is not safe for
// concurrent use, so every query holds the mutex.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS camera_events (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			camera_id INT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			path TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS camera_events_camera_time_idx ON camera_events (camera_id, occurred_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// InsertEvent saves one event. Re-inserting the same event id is a no-op.
func (s *Store) InsertEvent(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(ctx, `
		INSERT INTO camera_events (id, kind, camera_id, occurred_at, elapsed_ms, path, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, string(event.Kind), int(event.CameraID), event.Timestamp,
		event.Elapsed.Milliseconds(), event.Path, event.Detail)
	return err
}

// RecentEvents returns the latest events of a camera, newest first.
// A negative cameraID returns events of all cameras.
func (s *Store) RecentEvents(ctx context.Context, cameraID domain.CameraID, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, `
		SELECT id::text, kind, camera_id, occurred_at, elapsed_ms, path, detail
		FROM camera_events
		WHERE $1 < 0 OR camera_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, int(cameraID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e         domain.Event
			kind      string
			camID     int
			elapsedMS int64
		)
		if err := rows.Scan(&e.ID, &kind, &camID, &e.Timestamp, &elapsedMS, &e.Path, &e.Detail); err != nil {
			return nil, err
		}
		e.Kind = domain.EventKind(kind)
		e.CameraID = domain.CameraID(camID)
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events of a kind
func (s *Store) CountEvents(ctx context.Context, kind domain.EventKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM camera_events WHERE kind = $1`, string(kind)).Scan(&n)
	return n, err
}

// Handler returns an event bus handler that persists every event
func (s *Store) Handler(logger application.Logger) func(domain.Event) {
	return func(event domain.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.InsertEvent(ctx, event); err != nil {
			logger.Error("Failed to store event", "kind", event.Kind, "camera_id", event.CameraID, "error", err)
		}
	}
}
