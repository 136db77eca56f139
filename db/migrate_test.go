package db

import (
	"context"
	"database/sql"
	"testing"
)

func cleanDatabase(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS temp_channels`,
		`DROP TABLE IF EXISTS creator_channels`,
		`DROP TABLE IF EXISTS schema_migrations`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("clean database: %v", err)
		}
	}
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return exists
}

// TestRunMigrations tests that migrations can be applied to an empty database
func TestRunMigrations(t *testing.T) {
	db := openTestDB(t)
	cleanDatabase(t, context.Background(), db)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	for _, table := range []string{"creator_channels", "temp_channels"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s does not exist after migration", table)
		}
	}

	version, dirty, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty {
		t.Errorf("migration version is dirty")
	}
	if version < 2 {
		t.Errorf("migration version = %d, want >= 2", version)
	}

	// second run is a no-op
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
}

// TestMigrationUpDown rolls back the index migration and re-applies it.
func TestMigrationUpDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cleanDatabase(t, ctx, db)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO temp_channels (channel_id, guild_id, creator_id, sequence_number) VALUES ('t1', 'g1', 'c1', 1)`); err != nil {
		t.Fatalf("insert test row: %v", err)
	}
	before, _, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}

	if err := MigrateDown(db); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	after, dirty, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() after down error = %v", err)
	}
	if dirty || after >= before {
		t.Errorf("after down version=%d dirty=%v, before=%d", after, dirty, before)
	}
	if !tableExists(t, db, "temp_channels") {
		t.Error("temp_channels should survive rolling back the index migration")
	}

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() after rollback error = %v", err)
	}
	final, _, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() after re-apply error = %v", err)
	}
	if final != before {
		t.Errorf("version after re-apply = %d, want %d", final, before)
	}
}
