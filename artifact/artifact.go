// Package artifact persists session output, currently printed PDF
// documents, to the local filesystem.
package artifact

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gliderlab/webpilot/session"
)

// Save decodes a base64 document and writes it to path, creating parent
// directories as needed.
func Save(data64, path string) error {
	raw, err := base64.StdEncoding.DecodeString(data64)
	if err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("artifact dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	log.Printf("[Artifact] Saved: %s (%d bytes)", path, len(raw))
	return nil
}

// SavePDF takes the oldest queued print document from the session and
// writes it to path.
func SavePDF(s *session.Session, path string) error {
	data, err := s.DequeuePrintData()
	if err != nil {
		return err
	}
	return Save(data, path)
}
