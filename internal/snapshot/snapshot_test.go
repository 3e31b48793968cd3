package snapshot

import (
	"reflect"
	"testing"
	"time"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/assets"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/vcs"
)

func TestCollectPublicEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"ZE_PUBLIC_API_URL=https://api.example.com",
		"ZE_PUBLIC_FLAG=on",
		"ZE_SECRET=nope",
		"ZE_PUBLIC_BROKEN",
	}

	got := CollectPublicEnv(environ)
	want := map[string]string{
		"ZE_PUBLIC_API_URL": "https://api.example.com",
		"ZE_PUBLIC_FLAG":    "on",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCollectPublicEnvEmpty(t *testing.T) {
	if got := CollectPublicEnv([]string{"PATH=/usr/bin"}); got != nil {
		t.Errorf("expected nil for no public vars, got %v", got)
	}
}

func TestBuild(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := assets.Map{
		"a1": {Path: "index.html", Size: 12, Content: []byte("<html></html"), ContentType: "text/html", Hash: "a1"},
	}

	snap := Build(Params{
		SnapshotID:     "snap-1",
		ApplicationUID: "app.project.org",
		BuildID:        "build-1",
		Assets:         m,
		Git:            vcs.Info{Org: "org", Project: "project", Branch: "main", Commit: "abc", Username: "dev"},
		Environ:        []string{"ZE_PUBLIC_X=1"},
		CI:             true,
		CreatedAt:      created,
	})

	if snap.SnapshotID != "snap-1" || snap.BuildID != "build-1" {
		t.Errorf("identity = %s/%s", snap.SnapshotID, snap.BuildID)
	}
	meta, ok := snap.Assets["a1"]
	if !ok {
		t.Fatal("asset a1 missing from manifest")
	}
	// Content stays out of the manifest; it travels in per-file uploads.
	if meta.Path != "index.html" || meta.Size != 12 || meta.ContentType != "text/html" {
		t.Errorf("asset meta = %+v", meta)
	}
	if snap.Env["ZE_PUBLIC_X"] != "1" {
		t.Errorf("env = %v", snap.Env)
	}
	if !snap.CI {
		t.Error("CI flag lost")
	}
	if snap.Git.Org != "org" || snap.Git.Commit != "abc" {
		t.Errorf("git meta = %+v", snap.Git)
	}
	if !snap.CreatedAt.Equal(created) {
		t.Errorf("created at = %v", snap.CreatedAt)
	}
}
