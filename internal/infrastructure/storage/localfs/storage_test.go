package localfs

import (
	"context"
	"io"
	"strings"
	"testing"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	base := t.TempDir()
	s, err := New(base+"/storage", base+"/staging")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestStashPromoteOpenRoundTrip(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	ref, n, err := s.Stash(ctx, strings.NewReader("invoice bytes"))
	if err != nil {
		t.Fatalf("Stash() error = %v", err)
	}
	if n != int64(len("invoice bytes")) {
		t.Fatalf("Stash() n = %d", n)
	}

	key, err := s.Promote(ctx, ref, "u-1_factura.pdf")
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	f, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "invoice bytes" {
		t.Fatalf("content = %q", got)
	}

	// The staged reference is consumed by Promote.
	if _, err := s.OpenStaged(ctx, ref); err == nil {
		t.Fatalf("expected staged file to be gone after promote")
	}
}

func TestDiscardIsIdempotent(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	ref, _, err := s.Stash(ctx, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Stash() error = %v", err)
	}
	if err := s.Discard(ctx, ref); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if err := s.Discard(ctx, ref); err != nil {
		t.Fatalf("second Discard() error = %v", err)
	}
}

func TestStagedPathRejectsTraversal(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	for _, ref := range []string{"", "../escape", "a/b", `a\b`} {
		if _, err := s.OpenStaged(ctx, ref); err == nil {
			t.Fatalf("expected error for ref %q", ref)
		}
	}
}
