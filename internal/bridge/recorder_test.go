package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/config"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/database"
	"github.com/nerrad567/wyzesense-bridge/migrations"
)

func newTestRecorder(t *testing.T) (*SensorRecorder, *time.Time) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "sensors.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewSensorRecorder(db)
	r.now = func() time.Time { return now }
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(r.Stop)
	return r, &now
}

func TestSensorRecorder_RecordSighting(t *testing.T) {
	r, now := newTestRecorder(t)
	first := *now

	r.RecordSighting("C3", gateway.KindContact)
	*now = now.Add(time.Minute)
	r.RecordSighting("C3", gateway.KindContact)
	r.RecordSighting("D4", gateway.KindMotion)

	sensors, err := r.ListSensors(context.Background())
	if err != nil {
		t.Fatalf("ListSensors() error = %v", err)
	}
	if len(sensors) != 2 {
		t.Fatalf("ListSensors() returned %d sensors, want 2", len(sensors))
	}

	// Same last_seen: ordered by MAC.
	c3 := sensors[0]
	if c3.MAC != "C3" {
		t.Fatalf("sensors[0].MAC = %q, want C3", c3.MAC)
	}
	if c3.Kind != "contact" {
		t.Errorf("Kind = %q, want contact", c3.Kind)
	}
	if c3.EventCount != 2 {
		t.Errorf("EventCount = %d, want 2", c3.EventCount)
	}
	if !c3.FirstSeen.Equal(first) {
		t.Errorf("FirstSeen = %v, want %v", c3.FirstSeen, first)
	}
	if !c3.LastSeen.Equal(*now) {
		t.Errorf("LastSeen = %v, want %v", c3.LastSeen, *now)
	}
	if c3.EnrolledAt != nil {
		t.Errorf("EnrolledAt = %v, want nil", c3.EnrolledAt)
	}
}

func TestSensorRecorder_RecordEnrollment(t *testing.T) {
	r, now := newTestRecorder(t)
	ctx := context.Background()

	r.RecordSighting("A1", gateway.KindMotion)
	*now = now.Add(time.Hour)

	if err := r.RecordEnrollment(ctx, []string{"A1", "B2"}); err != nil {
		t.Fatalf("RecordEnrollment() error = %v", err)
	}

	sensors, err := r.ListSensors(ctx)
	if err != nil {
		t.Fatalf("ListSensors() error = %v", err)
	}
	byMAC := make(map[string]Sensor)
	for _, s := range sensors {
		byMAC[s.MAC] = s
	}

	a1 := byMAC["A1"]
	if a1.Kind != "motion" || a1.EventCount != 1 {
		t.Errorf("A1 = %+v, want kind motion with 1 event", a1)
	}
	if a1.EnrolledAt == nil || !a1.EnrolledAt.Equal(*now) {
		t.Errorf("A1 EnrolledAt = %v, want %v", a1.EnrolledAt, *now)
	}

	b2, ok := byMAC["B2"]
	if !ok {
		t.Fatal("B2 not recorded")
	}
	if b2.Kind != "unknown" || b2.EventCount != 0 {
		t.Errorf("B2 = %+v, want kind unknown with 0 events", b2)
	}

	count, err := r.SensorCount(ctx)
	if err != nil {
		t.Fatalf("SensorCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("SensorCount() = %d, want 2", count)
	}
}

func TestSensorRecorder_Stopped(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	r.Stop()
	r.RecordSighting("C3", gateway.KindContact)

	if err := r.RecordEnrollment(ctx, []string{"C3"}); !errors.Is(err, ErrRecorderNotStarted) {
		t.Errorf("RecordEnrollment() after Stop error = %v, want ErrRecorderNotStarted", err)
	}
	count, err := r.SensorCount(ctx)
	if err != nil {
		t.Fatalf("SensorCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("SensorCount() = %d, want 0", count)
	}
}

func TestSensorRecorder_ListEmpty(t *testing.T) {
	r, _ := newTestRecorder(t)

	sensors, err := r.ListSensors(context.Background())
	if err != nil {
		t.Fatalf("ListSensors() error = %v", err)
	}
	if sensors == nil || len(sensors) != 0 {
		t.Errorf("ListSensors() = %#v, want empty non-nil slice", sensors)
	}
}
