package database

import "testing"

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/chunkdrop?sslmode=disable":   "pgx5://u:p@db:5432/chunkdrop?sslmode=disable",
		"postgresql://u:p@db:5432/chunkdrop?sslmode=disable": "pgx5://u:p@db:5432/chunkdrop?sslmode=disable",
		"pgx5://u:p@db/chunkdrop":                            "pgx5://u:p@db/chunkdrop",
	}
	for in, want := range tests {
		if got := MigrateURL(in); got != want {
			t.Errorf("MigrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected up and down migrations, got %d files", len(entries))
	}
}
