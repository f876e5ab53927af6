package localfs

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestSaveAndOpen(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, "u-1/d-1_invoice.txt", strings.NewReader("Invoice INV-7")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rc, err := store.Open(ctx, "u-1/d-1_invoice.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "Invoice INV-7" {
		t.Fatalf("unexpected content %q", raw)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Save(context.Background(), "d-1.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "d-1.txt" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestOpenMissingReturnsNotFound(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = store.Open(context.Background(), "missing.txt")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKeysCannotEscapeBasePath(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"", "../secret", "/etc/passwd", "a/../../b"} {
		err := store.Save(context.Background(), key, strings.NewReader("x"))
		if !domain.IsKind(err, domain.ErrValidation) {
			t.Fatalf("key %q: expected ErrValidation, got %v", key, err)
		}
	}
}
