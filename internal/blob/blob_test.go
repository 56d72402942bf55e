package blob

import (
	"errors"
	"testing"
)

// TestFileStore_RoundTrip verifies put, get, and delete against a real
// directory.
func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	data := []byte("%PDF-1.4 fake content")
	if err := store.Put("report.pdf", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get("report.pdf")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}

	if err := store.Delete("report.pdf"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("report.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

// TestFileStore_OverwriteReplaces verifies a re-upload replaces the stored
// bytes.
func TestFileStore_OverwriteReplaces(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.Put("report.pdf", []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put("report.pdf", []byte("v2 longer")); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}

	got, err := store.Get("report.pdf")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v2 longer" {
		t.Errorf("Got %q after overwrite", got)
	}
}

// TestFileStore_RejectsTraversal verifies path separators and dot segments are
// rejected outright.
func TestFileStore_RejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	for _, name := range []string{"", ".", "..", "../escape.pdf", "a/b.pdf", `a\b.pdf`} {
		if err := store.Put(name, []byte("x")); err == nil {
			t.Errorf("Put(%q) should have been rejected", name)
		}
		if _, err := store.Get(name); err == nil {
			t.Errorf("Get(%q) should have been rejected", name)
		}
	}
}

// TestFileStore_DeleteMissing verifies deleting an absent blob reports
// ErrNotFound.
func TestFileStore_DeleteMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := store.Delete("missing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
