package views

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExportFileName returns the file name used for a workflow document.
func ExportFileName(id int64) string {
	return fmt.Sprintf("n8n-workflow-%d.json", id)
}

// WriteDocument writes doc unchanged to dir/n8n-workflow-<id>.json and returns the path.
func WriteDocument(dir string, id int64, doc string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, ExportFileName(id))
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
