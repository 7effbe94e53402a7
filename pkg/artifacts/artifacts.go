// Package artifacts persists pipeline outputs. The pipeline returns artifact
// name to content; a Sink decides where that content lives and returns the
// stable reference stored on the meeting record.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink stores named artifacts for a meeting and returns artifact name to
// stored reference.
type Sink interface {
	Store(ctx context.Context, meetingID string, outputs map[string]string) (map[string]string, error)
}

// FSSink writes artifacts under root/<meeting_id>/<name>.
type FSSink struct {
	root string
}

// NewFSSink creates a filesystem sink rooted at dir.
func NewFSSink(dir string) *FSSink {
	return &FSSink{root: dir}
}

func (s *FSSink) Store(ctx context.Context, meetingID string, outputs map[string]string) (map[string]string, error) {
	dir := filepath.Join(s.root, sanitize(meetingID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}

	refs := make(map[string]string, len(outputs))
	for name, content := range outputs {
		path := filepath.Join(dir, sanitize(name))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("writing artifact %q: %w", name, err)
		}
		refs[name] = path
	}
	return refs, nil
}

// sanitize strips path separators so artifact and meeting names cannot
// escape the sink root.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "_")
	return s
}

var _ Sink = (*FSSink)(nil)
