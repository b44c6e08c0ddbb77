package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFS_ContainsOrderedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"001_prescriptions.sql", "002_notifications.sql", "003_pill_schedule.sql"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestPrescriptionsSchema_GuardsUsage(t *testing.T) {
	b, err := fs.ReadFile(FS, "001_prescriptions.sql")
	if err != nil {
		t.Fatal(err)
	}
	sql := string(b)
	for _, want := range []string{"CHECK (used <= usage_limit)", "CHECK (usage_limit >= 1)", "right(id::text, 8)"} {
		if !strings.Contains(sql, want) {
			t.Errorf("expected schema to contain %q", want)
		}
	}
}
