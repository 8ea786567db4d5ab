package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/wyzesense-bridge/migrations"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_first.up.sql":    {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
		"20260101_000000_first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"20260102_120000_second.up.sql":   {Data: []byte("CREATE TABLE second (id INTEGER PRIMARY KEY);")},
		"README.md":                       {Data: []byte("not a migration")},
		"20260103_000000_broken.down.sql": {Data: []byte("DROP TABLE nothing;")},
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := testMigrations()
	delete(fsys, "20260103_000000_broken.down.sql")

	got, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadMigrations() returned %d migrations, want 2", len(got))
	}
	if got[0].Version != "20260101_000000" || got[1].Version != "20260102_120000" {
		t.Errorf("versions = %s, %s; want sorted oldest first", got[0].Version, got[1].Version)
	}
	if got[0].Name != "first" || got[0].DownSQL == "" {
		t.Errorf("first migration = %+v, want name and down SQL", got[0])
	}
	if got[1].DownSQL != "" {
		t.Errorf("second migration has unexpected down SQL")
	}
}

func TestLoadMigrations_DownWithoutUp(t *testing.T) {
	if _, err := LoadMigrations(testMigrations()); err == nil {
		t.Error("LoadMigrations() should reject a .down.sql without .up.sql")
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := testMigrations()
	delete(fsys, "20260103_000000_broken.down.sql")

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"first", "second"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	pending, err := db.Pending(ctx, fsys)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending() = %d migrations, want 0", len(pending))
	}

	// Second run is a no-op.
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureKeepsEarlierMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":  {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"20260102_000000_bad.up.sql": {Data: []byte("THIS IS NOT SQL;")},
	}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() should fail on invalid SQL")
	}

	pending, err := db.Pending(ctx, fsys)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "bad" {
		t.Errorf("Pending() = %+v, want only the failed migration", pending)
	}
}

func TestMigrate_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate(embedded) error = %v", err)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO sensors (mac, kind, first_seen, last_seen, event_count) VALUES (?, ?, ?, ?, ?)`,
		"77A1B2C3", "contact", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", 1)
	if err != nil {
		t.Errorf("insert into sensors: %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260101_000000_sensors.up.sql", "20260101_000000", "sensors", true, true},
		{"20260101_000000_sensors.down.sql", "20260101_000000", "sensors", false, true},
		{"20260101_000000_add_enrolled_at.up.sql", "20260101_000000", "add_enrolled_at", true, true},
		{"20260101_000000.up.sql", "20260101_000000", "20260101_000000", true, true},
		{"20260101_000000_sensors.sql", "", "", false, false},
		{"20260101.up.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
