package hashing

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestSum256(t *testing.T) {
	// Well-known SHA-256 of the empty input.
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum256(nil); got != empty {
		t.Fatalf("Sum256(nil) = %s, want %s", got, empty)
	}

	if Sum256String("a") == Sum256String("b") {
		t.Fatal("different inputs produced the same hash")
	}
	if len(Sum256String("a")) != 64 {
		t.Fatalf("expected 64 hex characters")
	}
}

func TestSum256File(t *testing.T) {
	data := make([]byte, 100_000)
	rand.Read(data)

	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Sum256File(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := Sum256(data); got != want {
		t.Fatalf("Sum256File = %s, want %s", got, want)
	}

	if _, err := Sum256File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
