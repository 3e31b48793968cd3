package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/assets"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/clock"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/config"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/edge"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/strategy"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/vcs"
)

const testUID = "app.project.org"

type fakeAPI struct {
	buildCalls   int32
	buildErr     error
	resolveErr   map[string]error
	resolveCalls int32
}

func (f *fakeAPI) CreateBuildID(ctx context.Context, token, uid string) (string, error) {
	n := atomic.AddInt32(&f.buildCalls, 1)
	if f.buildErr != nil {
		return "", f.buildErr
	}
	return fmt.Sprintf("build-%d", n), nil
}

func (f *fakeAPI) ResolveDependency(ctx context.Context, token, uid string) (*edge.ResolvedDependency, error) {
	atomic.AddInt32(&f.resolveCalls, 1)
	if err := f.resolveErr[uid]; err != nil {
		return nil, err
	}
	return &edge.ResolvedDependency{
		ApplicationUID: uid,
		RemoteEntryURL: "https://edge.example.com/" + uid + "/remoteEntry.js",
	}, nil
}

type fakeConfigs struct {
	cfg  *edge.ApplicationConfig
	cfgs []edge.ApplicationConfig
	err  error
}

func (f *fakeConfigs) Get(ctx context.Context, uid string) (*edge.ApplicationConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

func (f *fakeConfigs) GetAll(ctx context.Context, uid string) ([]edge.ApplicationConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cfgs, nil
}

type fakeHashes struct {
	known       assets.HashSet
	updateCalls int32
	updated     assets.Map
}

func (f *fakeHashes) Get(ctx context.Context, edgeURL, uid string) assets.HashSet {
	if f.known == nil {
		return assets.HashSet{}
	}
	return f.known
}

func (f *fakeHashes) Update(uid string, uploaded assets.Map) error {
	atomic.AddInt32(&f.updateCalls, 1)
	f.updated = uploaded
	return nil
}

type fakeDeployer struct {
	deployCalls int32
	multiCalls  int32
	deployErr   error
	lastReq     *strategy.Request
	lastCfg     *edge.ApplicationConfig
}

func (f *fakeDeployer) Deploy(ctx context.Context, cfg *edge.ApplicationConfig, req *strategy.Request) (string, error) {
	atomic.AddInt32(&f.deployCalls, 1)
	f.lastReq = req
	f.lastCfg = cfg
	if f.deployErr != nil {
		return "", f.deployErr
	}
	return "https://v1.example.com", nil
}

func (f *fakeDeployer) DeployMulti(ctx context.Context, cfgs []edge.ApplicationConfig, req *strategy.Request) (*strategy.MultiResult, error) {
	atomic.AddInt32(&f.multiCalls, 1)
	f.lastReq = req
	return &strategy.MultiResult{
		PrimaryURL: "https://p.example.com/v1",
		AllURLs:    []string{"https://p.example.com/v1"},
	}, nil
}

type fakeCreds struct{}

func (fakeCreds) CheckAuth(ctx context.Context) (string, error) { return "pat", nil }

type fixtures struct {
	api      *fakeAPI
	configs  *fakeConfigs
	hashes   *fakeHashes
	deployer *fakeDeployer
	clock    *clock.Fake
}

func newTestSession(t *testing.T) (*Session, *fixtures) {
	t.Helper()
	f := &fixtures{
		api: &fakeAPI{},
		configs: &fakeConfigs{
			cfg: &edge.ApplicationConfig{
				ApplicationUID: testUID,
				EdgeURL:        "https://edge.example.com",
				Jwt:            "jwt",
				Platform:       edge.PlatformCloudflare,
			},
		},
		hashes:   &fakeHashes{},
		deployer: &fakeDeployer{},
		clock:    clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.configs.cfgs = []edge.ApplicationConfig{*f.configs.cfg}

	s := &Session{
		cfg:            config.Default(),
		api:            f.api,
		configs:        f.configs,
		hashes:         f.hashes,
		deployer:       f.deployer,
		creds:          fakeCreds{},
		clock:          f.clock,
		environ:        nil,
		log:            logging.BuildLogger(testUID, ""),
		applicationUID: testUID,
		git: vcs.Info{
			Org:      "org",
			Project:  "project",
			Branch:   "main",
			Commit:   "abc123",
			Username: "Dev User",
		},
	}
	s.cfg.CI = false
	return s, f
}

func testAssets() assets.Map {
	return assets.Map{
		"a1": {Path: "index.html", Size: 10, Hash: "a1"},
		"c3": {Path: "app.js", Size: 20, Hash: "c3"},
	}
}

func TestStartNewBuildIdempotent(t *testing.T) {
	s, f := newTestSession(t)
	ctx := context.Background()

	s.StartNewBuild(ctx)
	first := s.buildID
	s.StartNewBuild(ctx) // duplicate start before the first was consumed

	if s.buildID != first {
		t.Error("duplicate StartNewBuild must not reissue the build id")
	}
	if _, err := first.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if f.api.buildCalls != 1 {
		t.Errorf("expected 1 build id request, got %d", f.api.buildCalls)
	}
}

func TestUploadAssetsComputesMissing(t *testing.T) {
	s, f := newTestSession(t)
	f.hashes.known = assets.NewHashSet([]string{"a1", "b2"})
	ctx := context.Background()

	s.StartNewBuild(ctx)
	res, err := s.UploadAssets(ctx, testAssets())
	if err != nil {
		t.Fatalf("UploadAssets: %v", err)
	}

	req := f.deployer.lastReq
	if len(req.Missing) != 1 {
		t.Fatalf("missing = %v, want only c3", req.Missing)
	}
	if _, ok := req.Missing["c3"]; !ok {
		t.Error("c3 should be missing")
	}
	if len(req.Assets) != 2 {
		t.Error("the snapshot request must keep the full asset map")
	}
	if res.VersionURL != "https://v1.example.com" {
		t.Errorf("version url = %q", res.VersionURL)
	}
	if res.BuildID != "build-1" {
		t.Errorf("build id = %q", res.BuildID)
	}
}

func TestUploadAssetsSnapshotIdentity(t *testing.T) {
	s, f := newTestSession(t)
	ctx := context.Background()

	s.StartNewBuild(ctx)
	res, err := s.UploadAssets(ctx, testAssets())
	if err != nil {
		t.Fatal(err)
	}

	if res.SnapshotID != "dev-user_build-1.app.project.org" {
		t.Errorf("snapshot id = %q", res.SnapshotID)
	}
	snap := f.deployer.lastReq.Snapshot
	if snap.SnapshotID != res.SnapshotID || snap.BuildID != "build-1" {
		t.Errorf("snapshot identity mismatch: %+v", snap)
	}
	if snap.Git.Org != "org" || snap.Git.Username != "Dev User" {
		t.Errorf("snapshot git metadata = %+v", snap.Git)
	}
}

func TestUploadAssetsHashListGating(t *testing.T) {
	s, f := newTestSession(t)
	m := testAssets()
	f.hashes.known = assets.NewHashSet([]string{"a1", "c3"}) // nothing missing
	ctx := context.Background()

	s.StartNewBuild(ctx)
	if _, err := s.UploadAssets(ctx, m); err != nil {
		t.Fatal(err)
	}
	if f.hashes.updateCalls != 0 {
		t.Error("hash-list update must not run when nothing was uploaded")
	}

	// With missing assets the update runs, carrying only the uploaded
	// subset.
	f.hashes.known = assets.NewHashSet([]string{"a1"})
	s.StartNewBuild(ctx)
	if _, err := s.UploadAssets(ctx, m); err != nil {
		t.Fatal(err)
	}
	if f.hashes.updateCalls != 1 {
		t.Fatalf("expected 1 hash-list update, got %d", f.hashes.updateCalls)
	}
	if len(f.hashes.updated) != 1 {
		t.Errorf("update must carry only uploaded assets, got %v", f.hashes.updated)
	}
}

func TestUploadAssetsStrategyFailure(t *testing.T) {
	s, f := newTestSession(t)
	f.deployer.deployErr = errors.New("edge down")
	ctx := context.Background()

	s.StartNewBuild(ctx)
	_, err := s.UploadAssets(ctx, testAssets())
	if err == nil {
		t.Fatal("expected the strategy error to surface")
	}
	if f.hashes.updateCalls != 0 {
		t.Error("hash list must not be updated after a failed upload")
	}
	// BuildFinished ran unconditionally: the session accepts a new
	// build.
	s.StartNewBuild(ctx)
	if s.buildID == nil {
		t.Error("session must be reusable after a failed build")
	}
}

func TestUploadAssetsMultiCDN(t *testing.T) {
	s, f := newTestSession(t)
	f.configs.cfgs = []edge.ApplicationConfig{
		{ApplicationUID: testUID, EdgeURL: "https://p", Platform: edge.PlatformCloudflare,
			Metadata: &edge.ConfigMetadata{IsPrimary: true}},
		{ApplicationUID: testUID, EdgeURL: "https://s", Platform: edge.PlatformNetlify,
			Metadata: &edge.ConfigMetadata{}},
	}
	ctx := context.Background()

	s.StartNewBuild(ctx)
	res, err := s.UploadAssets(ctx, testAssets())
	if err != nil {
		t.Fatal(err)
	}
	if f.deployer.multiCalls != 1 || f.deployer.deployCalls != 0 {
		t.Errorf("expected the multi-CDN path (multi=%d single=%d)", f.deployer.multiCalls, f.deployer.deployCalls)
	}
	if res.VersionURL != "https://p.example.com/v1" {
		t.Errorf("version url = %q", res.VersionURL)
	}
}

func TestUploadAssetsPlatformOverride(t *testing.T) {
	s, f := newTestSession(t)
	s.cfg.Platform = "aws"
	f.configs.cfgs = []edge.ApplicationConfig{*f.configs.cfg, *f.configs.cfg}
	ctx := context.Background()

	s.StartNewBuild(ctx)
	if _, err := s.UploadAssets(ctx, testAssets()); err != nil {
		t.Fatal(err)
	}
	if f.deployer.multiCalls != 0 || f.deployer.deployCalls != 1 {
		t.Error("a platform override pins the single-target path")
	}
	if f.deployer.lastCfg.Platform != edge.PlatformAWS {
		t.Errorf("platform = %q, want aws", f.deployer.lastCfg.Platform)
	}
}

func TestUploadAssetsBuildStats(t *testing.T) {
	s, f := newTestSession(t)
	f.hashes.known = assets.NewHashSet([]string{"a1"})
	ctx := context.Background()

	s.StartNewBuild(ctx)
	f.clock.Advance(3 * time.Second)
	if _, err := s.UploadAssets(ctx, testAssets()); err != nil {
		t.Fatal(err)
	}

	stats := f.deployer.lastReq.Stats("https://v1.example.com")
	if stats.AssetsTotal != 2 || stats.AssetsUploaded != 1 {
		t.Errorf("stats totals = %d/%d", stats.AssetsTotal, stats.AssetsUploaded)
	}
	if stats.BytesUploaded != 20 {
		t.Errorf("bytes uploaded = %d, want 20", stats.BytesUploaded)
	}
	if stats.VersionURL != "https://v1.example.com" {
		t.Errorf("stats version url = %q", stats.VersionURL)
	}
	if stats.Elapsed != 3*time.Second {
		t.Errorf("elapsed = %v, want 3s", stats.Elapsed)
	}
	if stats.ReportID == "" {
		t.Error("expected a report id")
	}
}

func TestResolveRemoteDependenciesSkipsFailures(t *testing.T) {
	s, f := newTestSession(t)
	f.api.resolveErr = map[string]error{
		"broken.project.org": errors.New("not found"),
	}
	ctx := context.Background()

	got := s.ResolveRemoteDependencies(ctx, []Dependency{
		{Name: "shell"},
		{Name: "broken"},
		{Name: "checkout", Org: "other-org", Project: "shop"},
	})

	if len(got) != 2 {
		t.Fatalf("expected 2 resolved dependencies, got %v", got)
	}
	if got[0].ApplicationUID != "shell.project.org" {
		t.Errorf("uid = %q, want the current org/project fallback", got[0].ApplicationUID)
	}
	if got[1].ApplicationUID != "checkout.shop.other-org" {
		t.Errorf("uid = %q, want the explicit org/project", got[1].ApplicationUID)
	}
	if f.api.resolveCalls != 3 {
		t.Errorf("expected 3 resolution attempts, got %d", f.api.resolveCalls)
	}
}

func TestBuildFinishedClearsState(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	s.StartNewBuild(ctx)
	if _, err := s.UploadAssets(ctx, testAssets()); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	cleared := s.buildID == nil && s.startTime.IsZero() && s.federatedDeps == nil
	s.mu.Unlock()
	if !cleared {
		t.Error("BuildFinished must clear build-scoped state")
	}
}

func TestDeferredBroadcast(t *testing.T) {
	d := newDeferred[string]()
	ctx := context.Background()

	results := make(chan string, 3)
	for i := 0; i < 3; i++ {
		go func() {
			v, _ := d.wait(ctx)
			results <- v
		}()
	}

	d.resolve("value", nil)
	d.resolve("ignored", errors.New("ignored")) // second resolve is a no-op

	for i := 0; i < 3; i++ {
		if v := <-results; v != "value" {
			t.Errorf("waiter got %q", v)
		}
	}

	// Late waiter returns immediately.
	if v, err := d.wait(ctx); v != "value" || err != nil {
		t.Errorf("late waiter got %q, %v", v, err)
	}
}

func TestDeferredContextCancel(t *testing.T) {
	d := newDeferred[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
