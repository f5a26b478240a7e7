package database

import (
	"context"
	"embed"
	"testing"
	"time"
)

// testMigrationsDir holds a fixture copy of the bridge schema: the device
// store tables plus a follow-up index migration, so ordering and rollback
// are exercised against the shapes the repository actually uses.
const testMigrationsDir = "testdata"

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations points the package at the fixture schema for one test.
func useTestMigrations(t *testing.T) {
	t.Helper()

	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = testMigrationsFS
	MigrationsDir = testMigrationsDir
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)

	db := openTestDB(t)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// The device store schema is in place and usable.
	_, err := db.ExecContext(ctx, `
		INSERT INTO devices (id, product_key, device_name, entity_prefix, enabled, properties, updated_at)
		VALUES ('sock_a', 'pk_a', 'sock-a', 'sock_a', 1, '["all_switch"]', '2026-08-15T12:00:00Z')`)
	if err != nil {
		t.Fatalf("devices table not usable after migration: %v", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		t.Fatalf("appliedVersions() error = %v", err)
	}
	want := []string{"20260815_120000", "20260901_090000"}
	if len(applied) != len(want) {
		t.Fatalf("applied versions = %v, want %v", applied, want)
	}
	for i := range want {
		if applied[i] != want[i] {
			t.Errorf("applied[%d] = %q, want %q", i, applied[i], want[i])
		}
	}

	// Re-running is idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useTestMigrations(t)

	db := openTestDB(t)
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Only the latest migration rolls back: the index goes, the tables stay.
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_devices_enabled'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 0 {
		t.Error("idx_devices_enabled should have been dropped")
	}

	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='devices'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 1 {
		t.Error("devices table should survive rolling back the index migration")
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		t.Fatalf("appliedVersions() error = %v", err)
	}
	if len(applied) != 1 || applied[0] != "20260815_120000" {
		t.Errorf("applied versions after rollback = %v, want [20260815_120000]", applied)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})

	var emptyFS embed.FS
	MigrationsFS = emptyFS
	MigrationsDir = "."

	db := openTestDB(t)
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFile(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantDesc    string
		wantUp      bool
		wantOk      bool
	}{
		{
			name:        "up migration",
			filename:    "20260815_120000_device_store.up.sql",
			wantVersion: "20260815_120000",
			wantDesc:    "device_store",
			wantUp:      true,
			wantOk:      true,
		},
		{
			name:        "down migration",
			filename:    "20260815_120000_device_store.down.sql",
			wantVersion: "20260815_120000",
			wantDesc:    "device_store",
			wantUp:      false,
			wantOk:      true,
		},
		{
			name:        "multi-word description",
			filename:    "20260901_090000_devices_enabled_index.up.sql",
			wantVersion: "20260901_090000",
			wantDesc:    "devices_enabled_index",
			wantUp:      true,
			wantOk:      true,
		},
		{
			name:     "not a sql file",
			filename: "README.md",
			wantOk:   false,
		},
		{
			name:     "missing direction",
			filename: "20260815_120000_device_store.sql",
			wantOk:   false,
		},
		{
			name:     "missing version",
			filename: "device_store.up.sql",
			wantOk:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, desc, up, ok := parseMigrationFile(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if desc != tt.wantDesc {
				t.Errorf("desc = %q, want %q", desc, tt.wantDesc)
			}
			if up != tt.wantUp {
				t.Errorf("up = %v, want %v", up, tt.wantUp)
			}
		})
	}
}
