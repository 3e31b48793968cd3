package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
)

// LoadDir walks a build output directory and produces the normalized
// asset map: relative path, raw bytes, detected content type, SHA-256
// content hash (hex).
func LoadDir(dir string) (Map, error) {
	out := make(Map)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read asset %s: %w", path, err)
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		sum := sha256.Sum256(content)
		hash := hex.EncodeToString(sum[:])

		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		out[hash] = Asset{
			Path:        rel,
			Size:        int64(len(content)),
			Content:     content,
			ContentType: contentType,
			Hash:        hash,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk build directory %s: %w", dir, err)
	}

	return out, nil
}
