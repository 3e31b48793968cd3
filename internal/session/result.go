package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// deployResultFile is what CI pipelines read after a deployment. It is
// written atomically so a concurrent reader never sees a partial file.
type deployResultFile struct {
	ApplicationUID string    `json:"application_uid"`
	SnapshotID     string    `json:"snapshot_id"`
	BuildID        string    `json:"build_id"`
	URL            string    `json:"url"`
	AllURLs        []string  `json:"all_urls,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// writeDeployResult persists the deploy result for external
// consumption. Best-effort: CI tooling failing to get its file must
// not fail a deployment that already succeeded.
func (s *Session) writeDeployResult(res *Result) {
	path := s.cfg.DeployResultPath
	if path == "" {
		return
	}

	out := deployResultFile{
		ApplicationUID: s.applicationUID,
		SnapshotID:     res.SnapshotID,
		BuildID:        res.BuildID,
		URL:            res.VersionURL,
		AllURLs:        res.AllURLs,
		CreatedAt:      s.clock.Now().UTC(),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		s.log.Warn("failed to encode deploy result", "error", err)
		return
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.log.Warn("failed to create deploy result directory", "error", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Warn("failed to write deploy result", "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.log.Warn("failed to write deploy result", "error", err)
		return
	}
	s.log.Info("wrote deploy result", "path", path)
}
