package assets

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMissing(t *testing.T) {
	m := Map{
		"a1": {Path: "index.html", Hash: "a1"},
		"c3": {Path: "app.js", Hash: "c3"},
	}
	known := NewHashSet([]string{"a1", "b2"})

	missing := m.Missing(known)

	if len(missing) != 1 {
		t.Fatalf("expected 1 missing asset, got %d", len(missing))
	}
	if _, ok := missing["c3"]; !ok {
		t.Errorf("expected c3 to be missing")
	}
}

func TestMissingEmptyKnownSet(t *testing.T) {
	m := Map{
		"a1": {Hash: "a1"},
		"b2": {Hash: "b2"},
	}

	missing := m.Missing(HashSet{})

	if len(missing) != 2 {
		t.Errorf("expected all assets missing against empty set, got %d", len(missing))
	}
}

func TestHashSetSorted(t *testing.T) {
	s := NewHashSet([]string{"c", "a", "b"})
	s.Add("a") // re-adding is a no-op

	got := s.Sorted()
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted() = %v, want %v", got, want)
	}
}

func TestTotalBytes(t *testing.T) {
	m := Map{
		"a": {Size: 100},
		"b": {Size: 250},
	}
	if got := m.TotalBytes(); got != 350 {
		t.Errorf("TotalBytes() = %d, want 350", got)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "static"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"index.html":    "<html></html>",
		"static/app.js": "console.log(1)",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(m))
	}

	byPath := map[string]Asset{}
	for _, a := range m {
		byPath[a.Path] = a
	}
	html, ok := byPath["index.html"]
	if !ok {
		t.Fatalf("index.html not loaded, got %v", byPath)
	}
	if html.Size != int64(len("<html></html>")) {
		t.Errorf("size = %d, want %d", html.Size, len("<html></html>"))
	}
	if html.Hash == "" {
		t.Error("expected a content hash")
	}
	js, ok := byPath["static/app.js"]
	if !ok {
		t.Fatalf("nested asset not loaded with relative path, got %v", byPath)
	}
	if js.Hash == html.Hash {
		t.Error("different content must produce different hashes")
	}
}

func TestLoadDirSameContentSameHash(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("same"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	// Identical bytes collapse to one hash key; the map keeps one
	// record per hash.
	if len(m) != 1 {
		t.Errorf("expected identical content to dedupe to 1 entry, got %d", len(m))
	}
}
