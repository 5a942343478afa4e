package db

import "testing"

func TestPostgresConfigDSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", User: "dgnl", Password: "p@ss word", Name: "dgnl"}
	got := cfg.dsn()
	want := "postgres://dgnl:p%40ss%20word@db:5432/dgnl?sslmode=disable"
	if got != want {
		t.Fatalf("dsn = %q want %q", got, want)
	}

	cfg.DSN = "postgres://override"
	if got := cfg.dsn(); got != "postgres://override" {
		t.Fatalf("explicit DSN should win, got %q", got)
	}
}
