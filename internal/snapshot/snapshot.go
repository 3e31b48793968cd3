// Package snapshot builds the versioned manifest submitted to the edge
// for one build: the set of asset hashes plus build metadata.
package snapshot

import (
	"strings"
	"time"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/assets"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/vcs"
)

// EnvPrefix marks environment variables that are embedded into the
// snapshot and exposed to the published application.
const EnvPrefix = "ZE_PUBLIC_"

// Snapshot is the manifest for one build. Once created it is attached
// to the build session and reused by every upload target.
type Snapshot struct {
	SnapshotID     string               `json:"snapshot_id"`
	ApplicationUID string               `json:"application_uid"`
	BuildID        string               `json:"build_id"`
	Assets         map[string]AssetMeta `json:"assets"`
	Git            GitMeta              `json:"git"`
	Env            map[string]string    `json:"env,omitempty"`
	CI             bool                 `json:"ci"`
	CreatedAt      time.Time            `json:"created_at"`
}

// AssetMeta describes one asset in the manifest. Content travels in the
// per-file uploads, never in the snapshot.
type AssetMeta struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// GitMeta is the VCS context recorded in the manifest.
type GitMeta struct {
	Org      string `json:"org"`
	Project  string `json:"project"`
	Branch   string `json:"branch,omitempty"`
	Commit   string `json:"commit,omitempty"`
	Username string `json:"username,omitempty"`
}

// Params collects the inputs for Build.
type Params struct {
	SnapshotID     string
	ApplicationUID string
	BuildID        string
	Assets         assets.Map
	Git            vcs.Info
	Environ        []string // typically os.Environ()
	CI             bool
	CreatedAt      time.Time
}

// Build assembles the snapshot from a finished asset map.
func Build(p Params) *Snapshot {
	metas := make(map[string]AssetMeta, len(p.Assets))
	for hash, a := range p.Assets {
		metas[hash] = AssetMeta{
			Path:        a.Path,
			Size:        a.Size,
			ContentType: a.ContentType,
		}
	}

	return &Snapshot{
		SnapshotID:     p.SnapshotID,
		ApplicationUID: p.ApplicationUID,
		BuildID:        p.BuildID,
		Assets:         metas,
		Git: GitMeta{
			Org:      p.Git.Org,
			Project:  p.Git.Project,
			Branch:   p.Git.Branch,
			Commit:   p.Git.Commit,
			Username: p.Git.Username,
		},
		Env:       CollectPublicEnv(p.Environ),
		CI:        p.CI,
		CreatedAt: p.CreatedAt.UTC(),
	}
}

// CollectPublicEnv extracts the ZE_PUBLIC_-prefixed variables from an
// environment list.
func CollectPublicEnv(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
