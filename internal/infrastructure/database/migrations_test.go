package database

import (
	"context"
	"embed"
	"io/fs"
	"testing"
	"testing/fstest"
)

//go:embed testdata
var testMigrationsFS embed.FS

const testMigrationsDir = "testdata"

func tableExists(t *testing.T, db *DB, kind, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "table", "samples") || !tableExists(t, db, "index", "idx_samples_label") {
		t.Fatal("migrations not applied")
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrationsFS, testMigrationsDir)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d pending = %d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("applied[0] = %+v", applied[0])
	}

	if err := db.Migrate(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if err := db.MigrateDown(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "index", "idx_samples_label") {
		t.Error("index survived rollback")
	}
	if !tableExists(t, db, "table", "samples") {
		t.Error("rollback went past the latest migration")
	}

	_, pending, err := db.MigrationStatus(ctx, testMigrationsFS, testMigrationsDir)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "add_sample_index" {
		t.Errorf("pending = %+v, want add_sample_index", pending)
	}
}

func TestMigrateDownWithoutDownSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_one_way.up.sql": {Data: []byte("CREATE TABLE one_way (id INTEGER);")},
	}
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, fsys, "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys, "."); err == nil {
		t.Error("MigrateDown() without down SQL succeeded")
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_good.up.sql": {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20260102_000000_bad.up.sql":  {Data: []byte("CREATE TABLE bad (id INTEGER); NOT SQL;")},
	}
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, fsys, "."); err == nil {
		t.Fatal("Migrate() with broken migration succeeded")
	}
	if !tableExists(t, db, "table", "good") {
		t.Error("earlier migration was not kept")
	}
	if tableExists(t, db, "table", "bad") {
		t.Error("failed migration was not rolled back")
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for name, fsys := range map[string]fs.FS{
		"nil fs":      nil,
		"missing dir": fstest.MapFS{},
	} {
		t.Run(name, func(t *testing.T) {
			if err := db.Migrate(ctx, fsys, "migrations"); err != nil {
				t.Errorf("Migrate() error = %v", err)
			}
		})
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260118_120000_create_history.up.sql", "20260118_120000", "create_history", true, true},
		{"20260118_120000_add_unit_to_history.down.sql", "20260118_120000", "add_unit_to_history", false, true},
		{"20260118_120000.up.sql", "20260118_120000", "20260118_120000", true, true},
		{"readme.txt", "", "", false, false},
		{"20260118_120000_create_history.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantIsUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, isUp, tt.wantVersion, tt.wantName, tt.wantIsUp)
			}
		})
	}
}
