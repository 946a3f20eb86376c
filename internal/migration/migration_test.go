package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/paydesk/pkg/db"
)

func TestAutoMigrateCreatesTables(t *testing.T) {
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Run(conn, db.DialectSQLite); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, table := range []string{"users", "sessions", "payments", "payment_webhook_events"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
	if !conn.Migrator().HasIndex("payment_webhook_events", "ux_payment_webhook_events_provider_event") {
		t.Fatalf("expected unique event index")
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	ups, downs := 0, 0
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Fatalf("expected paired migrations, got %d up and %d down", ups, downs)
	}
}
