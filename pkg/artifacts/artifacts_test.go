package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFSSink_Store(t *testing.T) {
	root := t.TempDir()
	sink := NewFSSink(root)

	refs, err := sink.Store(context.Background(), "bot-1", map[string]string{
		"notes.md":   "# Notes",
		"notes.json": `{"title":"Notes"}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %d, want 2", len(refs))
	}

	content, err := os.ReadFile(refs["notes.md"])
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "# Notes" {
		t.Errorf("content = %q", content)
	}
	if filepath.Dir(refs["notes.md"]) != filepath.Join(root, "bot-1") {
		t.Errorf("artifact not under meeting dir: %s", refs["notes.md"])
	}
}

func TestFSSink_SanitizesNames(t *testing.T) {
	root := t.TempDir()
	sink := NewFSSink(root)

	refs, err := sink.Store(context.Background(), "../escape", map[string]string{
		"../../evil.md": "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, ref := range refs {
		abs, _ := filepath.Abs(ref)
		absRoot, _ := filepath.Abs(root)
		if !strings.HasPrefix(abs, absRoot) {
			t.Errorf("artifact escaped sink root: %s", ref)
		}
	}
}
