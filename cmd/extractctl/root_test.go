package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestSchemasListPrintsBuiltins(t *testing.T) {
	t.Setenv("SCHEMA_PATH", "")

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"schemas", "list"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{"DOMAIN", "finance", "invoice", "logistics", "delivery_note"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestSessionStartRequiresUser(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"session", "start", "doc-1"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "user") {
		t.Fatalf("expected missing --user error, got %v", err)
	}
}

func TestProcessRequiresFileArgument(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"process"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected argument error")
	}
}
