package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCharacterFor(t *testing.T) {
	w := NewWatcher("/drop", nil)
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/drop/alice/notes.txt", "alice", true},
		{"/drop/rootfile.txt", "", false},
		{"/drop/alice/nested/deep.txt", "", false},
	}
	for _, tt := range tests {
		got, ok := w.characterFor(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("characterFor(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestWatcher_ImportOnDrop(t *testing.T) {
	root := t.TempDir()
	charDir := filepath.Join(root, "alice")
	if err := os.MkdirAll(charDir, 0755); err != nil {
		t.Fatal(err)
	}

	type imported struct{ character, path string }
	got := make(chan imported, 4)
	w := NewWatcher(root, func(character, path string) {
		got <- imported{character, path}
	}, WithDebounce(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	target := filepath.Join(charDir, "doc.txt")
	if err := os.WriteFile(target, []byte("dropped"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case imp := <-got:
		if imp.character != "alice" || imp.path != target {
			t.Errorf("got %+v", imp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("import callback not invoked")
	}
}

func TestWatcher_IgnoresUnsupportedAndRootFiles(t *testing.T) {
	root := t.TempDir()
	charDir := filepath.Join(root, "alice")
	if err := os.MkdirAll(charDir, 0755); err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 4)
	w := NewWatcher(root, func(_, path string) {
		got <- path
	}, WithDebounce(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Unsupported extension and a file outside any character directory.
	if err := os.WriteFile(filepath.Join(charDir, "skip.exe"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "loose.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case path := <-got:
		t.Errorf("unexpected import of %q", path)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_NewCharacterDirectory(t *testing.T) {
	root := t.TempDir()

	got := make(chan string, 4)
	w := NewWatcher(root, func(character, _ string) {
		got <- character
	}, WithDebounce(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	charDir := filepath.Join(root, "bob")
	if err := os.MkdirAll(charDir, 0755); err != nil {
		t.Fatal(err)
	}
	// Give the create event time to register the new directory watch.
	time.Sleep(300 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(charDir, "late.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case character := <-got:
		if character != "bob" {
			t.Errorf("character: got %q", character)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("file in new character directory was not imported")
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	w := NewWatcher(t.TempDir(), func(string, string) {})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
