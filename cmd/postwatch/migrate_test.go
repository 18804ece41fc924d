package main

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMigrate(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	steps := []struct {
		action string
		want   string
	}{
		{action: "status", want: "pending  00001_seen_posts.sql\n"},
		{action: "up-one"},
		{action: "version", want: "version 1\n"},
		{action: "status", want: "applied  00001_seen_posts.sql\n"},
		{action: "reset"},
		{action: "version", want: "version 0\n"},
	}
	for _, s := range steps {
		var out strings.Builder
		if err := migrate(ctx, &out, db, s.action); err != nil {
			t.Fatalf("migrate %s: %v", s.action, err)
		}
		if s.want == "" {
			continue
		}
		if diff := cmp.Diff(s.want, out.String()); diff != "" {
			t.Errorf("migrate %s mismatch (-want +got):\n%s", s.action, diff)
		}
	}

	if err := migrate(ctx, &strings.Builder{}, db, "sideways"); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	want := []string{"migrate", "run", "scan", "seen", "validate"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("subcommands mismatch (-want +got):\n%s", diff)
	}

	var out strings.Builder
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), Version) {
		t.Errorf("version output %q missing %q", out.String(), Version)
	}
}
