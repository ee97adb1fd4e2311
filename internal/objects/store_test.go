package objects

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStore_PutGet(t *testing.T) {
	s := NewStore(t.TempDir())

	hash, err := s.Put("fit", map[string]any{"slope": 1.5, "n": float64(20)})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}

	value, err := s.Get("fit")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", value)
	}
	if m["slope"] != 1.5 {
		t.Errorf("round-trip mismatch: %v", m)
	}
}

func TestStore_HashStability(t *testing.T) {
	s := NewStore(t.TempDir())

	h1, err := s.Put("x", []any{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.Put("x", []any{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("same value should hash identically: %s vs %s", h1, h2)
	}

	h3, _ := s.Put("x", []any{"a", "c"})
	if h1 == h3 {
		t.Error("different values should hash differently")
	}

	stored, err := s.Hash("x")
	if err != nil {
		t.Fatal(err)
	}
	if stored != h3 {
		t.Errorf("Hash should match last Put: %s vs %s", stored, h3)
	}
}

func TestStore_Missing(t *testing.T) {
	s := NewStore(t.TempDir())

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if s.Has("nope") {
		t.Error("Has should be false for missing result")
	}
	if err := s.Delete("nope"); err != nil {
		t.Errorf("deleting a missing result should not error: %v", err)
	}
}

func TestStore_RejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "store"))

	outside := filepath.Join(dir, "victim.json")
	if err := os.WriteFile(outside, []byte(`1`), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"../victim", "../../etc/passwd", "a/b", "", ".hidden"} {
		if _, err := s.Put(name, 1); !errors.Is(err, ErrBadName) {
			t.Errorf("Put(%q): expected ErrBadName, got %v", name, err)
		}
		if _, err := s.Get(name); !errors.Is(err, ErrBadName) {
			t.Errorf("Get(%q): expected ErrBadName, got %v", name, err)
		}
		if s.Has(name) {
			t.Errorf("Has(%q) should be false", name)
		}
		if err := s.Delete(name); !errors.Is(err, ErrBadName) {
			t.Errorf("Delete(%q): expected ErrBadName, got %v", name, err)
		}
	}

	// The file outside the store root is untouched.
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("file outside the store was affected: %v", err)
	}

	// Branch sub-target names pass.
	if _, err := s.Put("sim.b01", 1); err != nil {
		t.Fatalf("branch name rejected: %v", err)
	}
}

func TestStore_Read(t *testing.T) {
	s := NewStore(t.TempDir())

	if _, ok, err := s.Read("nope"); err != nil || ok {
		t.Errorf("missing result: expected (nil, false, nil), got ok=%v err=%v", ok, err)
	}

	if _, err := s.Put("fit", map[string]any{"slope": 1.5}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Read("fit")
	if err != nil || !ok {
		t.Fatalf("read failed: ok=%v err=%v", ok, err)
	}
	if m := v.(map[string]any); m["slope"] != 1.5 {
		t.Errorf("round-trip mismatch: %v", v)
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put("a", 1)
	s.Put("b", 2)

	if err := s.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if s.Has("a") {
		t.Error("a should be gone")
	}
	if !s.Has("b") {
		t.Error("b should remain")
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if s.Has("b") {
		t.Error("clear should remove everything")
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != HashBytes([]byte("hello")) {
		t.Error("file hash should match byte hash of contents")
	}

	if _, err := HashFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
