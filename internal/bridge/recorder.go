package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/database"
)

// timeLayout stores timestamps as fixed-width UTC text so they sort correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrRecorderNotStarted is returned when the recorder is used before Start
// or after Stop.
var ErrRecorderNotStarted = errors.New("sensor recorder not started")

// Sensor is one row of the sensor inventory.
type Sensor struct {
	MAC        string     `json:"mac"`
	Kind       string     `json:"kind"`
	FirstSeen  time.Time  `json:"first_seen"`
	LastSeen   time.Time  `json:"last_seen"`
	EventCount int64      `json:"event_count"`
	EnrolledAt *time.Time `json:"enrolled_at,omitempty"`
}

// SensorRecorder keeps an inventory of sensors seen on the gateway: when each
// was first and last heard, how many state events it sent and when a scan
// enrolled it. Readings themselves are not stored.
//
// Thread Safety: All methods are safe for concurrent use.
type SensorRecorder struct {
	db *database.DB

	// Prepared statements for upserts (created once, reused)
	sightingStmt *sql.Stmt
	enrollStmt   *sql.Stmt
	stmtMu       sync.Mutex

	now func() time.Time

	logHolder
}

// NewSensorRecorder creates a recorder. The sensors table must exist.
func NewSensorRecorder(db *database.DB) *SensorRecorder {
	return &SensorRecorder{db: db, now: time.Now}
}

// Start prepares the recorder's statements. Calling it again is a no-op.
func (r *SensorRecorder) Start(ctx context.Context) error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.sightingStmt != nil {
		return nil
	}

	sighting, err := r.db.PrepareContext(ctx, `
		INSERT INTO sensors (mac, kind, first_seen, last_seen, event_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(mac) DO UPDATE SET
			kind = excluded.kind,
			last_seen = excluded.last_seen,
			event_count = event_count + 1
	`)
	if err != nil {
		return fmt.Errorf("preparing sighting upsert: %w", err)
	}

	enroll, err := r.db.PrepareContext(ctx, `
		INSERT INTO sensors (mac, first_seen, last_seen, enrolled_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			enrolled_at = excluded.enrolled_at
	`)
	if err != nil {
		sighting.Close()
		return fmt.Errorf("preparing enrollment upsert: %w", err)
	}

	r.sightingStmt = sighting
	r.enrollStmt = enroll
	r.logInfo("sensor recorder started")
	return nil
}

// Stop releases the prepared statements. Later writes are dropped.
func (r *SensorRecorder) Stop() {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.sightingStmt != nil {
		r.sightingStmt.Close()
		r.sightingStmt = nil
	}
	if r.enrollStmt != nil {
		r.enrollStmt.Close()
		r.enrollStmt = nil
	}
	r.logInfo("sensor recorder stopped")
}

// RecordSighting upserts a sensor after a state event. Errors are logged.
func (r *SensorRecorder) RecordSighting(mac string, kind gateway.SensorKind) {
	r.stmtMu.Lock()
	stmt := r.sightingStmt
	r.stmtMu.Unlock()

	if stmt == nil {
		return
	}

	now := r.now().UTC().Format(timeLayout)
	if _, err := stmt.Exec(mac, string(kind), now, now); err != nil {
		r.logError("recording sensor sighting", err, "mac", mac)
	}
}

// RecordEnrollment marks every MAC as enrolled now, in one transaction.
func (r *SensorRecorder) RecordEnrollment(ctx context.Context, macs []string) error {
	r.stmtMu.Lock()
	stmt := r.enrollStmt
	r.stmtMu.Unlock()

	if stmt == nil {
		return ErrRecorderNotStarted
	}

	now := r.now().UTC().Format(timeLayout)
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		txStmt := tx.StmtContext(ctx, stmt)
		defer txStmt.Close()

		for _, mac := range macs {
			if _, err := txStmt.ExecContext(ctx, mac, now, now, now); err != nil {
				return fmt.Errorf("enrolling %s: %w", mac, err)
			}
		}
		return nil
	})
}

// ListSensors returns the inventory, most recently seen first.
func (r *SensorRecorder) ListSensors(ctx context.Context) ([]Sensor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mac, kind, first_seen, last_seen, event_count, enrolled_at
		FROM sensors
		ORDER BY last_seen DESC, mac ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	defer rows.Close()

	sensors := []Sensor{}
	for rows.Next() {
		var (
			s                   Sensor
			firstSeen, lastSeen string
			enrolledAt          sql.NullString
		)
		if err := rows.Scan(&s.MAC, &s.Kind, &firstSeen, &lastSeen, &s.EventCount, &enrolledAt); err != nil {
			return nil, fmt.Errorf("scanning sensor: %w", err)
		}
		if s.FirstSeen, err = time.Parse(timeLayout, firstSeen); err != nil {
			return nil, fmt.Errorf("sensor %s first_seen: %w", s.MAC, err)
		}
		if s.LastSeen, err = time.Parse(timeLayout, lastSeen); err != nil {
			return nil, fmt.Errorf("sensor %s last_seen: %w", s.MAC, err)
		}
		if enrolledAt.Valid {
			t, err := time.Parse(timeLayout, enrolledAt.String)
			if err != nil {
				return nil, fmt.Errorf("sensor %s enrolled_at: %w", s.MAC, err)
			}
			s.EnrolledAt = &t
		}
		sensors = append(sensors, s)
	}
	return sensors, rows.Err()
}

// SensorCount returns the number of sensors in the inventory.
func (r *SensorRecorder) SensorCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sensors`).Scan(&count)
	return count, err
}
