// Package session is the engine callers hold for the duration of one
// build: it owns the build/snapshot identifiers, sequences the upload
// phases, and clears per-build state so the session can be reused.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	apperrors "github.com/beldeveloper/go-errors-context"
	"github.com/google/uuid"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/assets"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/clock"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/config"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/edge"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/errtype"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/metrics"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/snapshot"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/strategy"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/vcs"
)

// API is the subset of the platform API the session calls directly.
type API interface {
	CreateBuildID(ctx context.Context, token, applicationUID string) (string, error)
	ResolveDependency(ctx context.Context, token, applicationUID string) (*edge.ResolvedDependency, error)
}

// ConfigSource resolves application configurations.
type ConfigSource interface {
	Get(ctx context.Context, applicationUID string) (*edge.ApplicationConfig, error)
	GetAll(ctx context.Context, applicationUID string) ([]edge.ApplicationConfig, error)
}

// HashLister is the known-hash cache.
type HashLister interface {
	Get(ctx context.Context, edgeURL, applicationUID string) assets.HashSet
	Update(applicationUID string, uploaded assets.Map) error
}

// Credentials supplies the long-lived access token.
type Credentials interface {
	CheckAuth(ctx context.Context) (string, error)
}

// Deployer executes the platform upload strategies.
type Deployer interface {
	Deploy(ctx context.Context, cfg *edge.ApplicationConfig, req *strategy.Request) (string, error)
	DeployMulti(ctx context.Context, cfgs []edge.ApplicationConfig, req *strategy.Request) (*strategy.MultiResult, error)
}

// Params collects the session's collaborators.
type Params struct {
	Config      config.Config
	API         API
	Configs     ConfigSource
	Hashes      HashLister
	Deployer    Deployer
	Credentials Credentials
	Clock       clock.Clock
	Environ     []string // typically os.Environ()
	WorkDir     string   // repository root for identity resolution
}

// Session is one build session. A session serves one build at a time
// but can be reused for consecutive builds.
type Session struct {
	cfg      config.Config
	api      API
	configs  ConfigSource
	hashes   HashLister
	deployer Deployer
	creds    Credentials
	clock    clock.Clock
	environ  []string
	log      *slog.Logger

	applicationUID string
	git            vcs.Info

	mu             sync.Mutex
	buildID        *deferred[string]
	hashList       *deferred[assets.HashSet]
	buildConsumed  bool
	startTime      time.Time
	federatedDeps  []edge.ResolvedDependency
	lastVersionURL string
}

// New resolves the application identity and starts the session's
// background prefetches (authentication, configuration, build id, hash
// list) without blocking each other.
func New(ctx context.Context, p Params) (*Session, error) {
	git, err := vcs.Resolve(ctx, p.WorkDir)
	if err != nil {
		return nil, apperrors.WrapContext(err, apperrors.Context{
			Path:   "session.New",
			Params: apperrors.Params{"dir": p.WorkDir},
		})
	}
	app, err := vcs.AppName(p.WorkDir)
	if err != nil {
		return nil, apperrors.WrapContext(err, apperrors.Context{
			Path:   "session.New",
			Params: apperrors.Params{"dir": p.WorkDir},
		})
	}
	uid := vcs.ApplicationUID(app, git)
	if uid == "" {
		return nil, apperrors.WrapContext(errtype.ErrMissingApplicationUID, apperrors.Context{
			Path: "session.New",
		})
	}

	s := &Session{
		cfg:            p.Config,
		api:            p.API,
		configs:        p.Configs,
		hashes:         p.Hashes,
		deployer:       p.Deployer,
		creds:          p.Credentials,
		clock:          p.Clock,
		environ:        p.Environ,
		log:            logging.BuildLogger(uid, ""),
		applicationUID: uid,
		git:            git,
	}

	// Warm the credential and configuration caches early so the first
	// build does not pay for them.
	go func() {
		if _, err := s.creds.CheckAuth(ctx); err != nil {
			s.log.Warn("auth prefetch failed", "error", err)
		}
	}()
	go func() {
		if _, err := s.configs.Get(ctx, uid); err != nil {
			s.log.Warn("config prefetch failed", "error", err)
		}
	}()

	s.StartNewBuild(ctx)
	return s, nil
}

// ApplicationUID returns the stable identity this session publishes as.
func (s *Session) ApplicationUID() string { return s.applicationUID }

// StartNewBuild issues a fresh build id and hash-list load. It is a
// no-op while a previously issued build id is still unconsumed, so a
// duplicate build start cannot orphan an in-flight build.
func (s *Session) StartNewBuild(ctx context.Context) {
	s.mu.Lock()
	if s.buildID != nil && !s.buildConsumed {
		s.mu.Unlock()
		return
	}
	bid := newDeferred[string]()
	hl := newDeferred[assets.HashSet]()
	s.buildID = bid
	s.hashList = hl
	s.buildConsumed = false
	s.startTime = s.clock.Now()
	s.mu.Unlock()

	go func() {
		id, err := s.issueBuildID(ctx)
		bid.resolve(id, err)
	}()
	go func() {
		hl.resolve(s.loadHashList(ctx), nil)
	}()
}

func (s *Session) issueBuildID(ctx context.Context) (string, error) {
	token, err := s.creds.CheckAuth(ctx)
	if err != nil {
		return "", apperrors.WrapContext(err, apperrors.Context{
			Path:   "session.Session.issueBuildID",
			Params: apperrors.Params{"application_uid": s.applicationUID},
		})
	}
	return s.api.CreateBuildID(ctx, token, s.applicationUID)
}

// loadHashList resolves the edge URL and pulls the known-hash set. Any
// failure degrades to an empty set: all assets get uploaded, which is
// wasteful but never wrong.
func (s *Session) loadHashList(ctx context.Context) assets.HashSet {
	cfg, err := s.configs.Get(ctx, s.applicationUID)
	if err != nil {
		s.log.Warn("hash list unavailable, uploading everything", "error", err)
		return assets.HashSet{}
	}
	return s.hashes.Get(ctx, cfg.EdgeURL, s.applicationUID)
}

// Dependency names one federated remote to resolve against the edge.
// Org and Project fall back to the current application's when omitted.
type Dependency struct {
	Name    string
	Version string
	App     string
	Org     string
	Project string
}

// ResolveRemoteDependencies resolves federated remotes and keeps the
// successes. A single unresolved remote is logged and skipped, never
// fatal.
func (s *Session) ResolveRemoteDependencies(ctx context.Context, deps []Dependency) []edge.ResolvedDependency {
	if len(deps) == 0 {
		return nil
	}
	token, err := s.creds.CheckAuth(ctx)
	if err != nil {
		s.log.Warn("skipping remote dependency resolution", "error", err)
		return nil
	}

	resolved := make([]edge.ResolvedDependency, 0, len(deps))
	for _, dep := range deps {
		uid := s.dependencyUID(dep)
		r, err := s.api.ResolveDependency(ctx, token, uid)
		if err != nil {
			s.log.Warn("failed to resolve remote dependency",
				"dependency", dep.Name,
				"target_uid", uid,
				"error", err)
			continue
		}
		if r.Name == "" {
			r.Name = dep.Name
		}
		if dep.Version != "" {
			r.Version = dep.Version
		}
		resolved = append(resolved, *r)
	}

	s.mu.Lock()
	s.federatedDeps = resolved
	s.mu.Unlock()
	return resolved
}

func (s *Session) dependencyUID(dep Dependency) string {
	info := s.git
	if dep.Org != "" {
		info.Org = dep.Org
	}
	if dep.Project != "" {
		info.Project = dep.Project
	}
	app := dep.App
	if app == "" {
		app = dep.Name
	}
	return vcs.ApplicationUID(app, info)
}

// Result is the outcome of one finished upload.
type Result struct {
	VersionURL string
	AllURLs    []string
	SnapshotID string
	BuildID    string
}

// UploadAssets publishes one finished asset map: computes which assets
// the edge is missing, builds the snapshot, runs the platform strategy,
// and records the uploaded hashes. BuildFinished runs unconditionally
// afterward; the returned error is the real signal.
func (s *Session) UploadAssets(ctx context.Context, assetsMap assets.Map) (res *Result, err error) {
	if s.applicationUID == "" {
		return nil, apperrors.WrapContext(errtype.ErrMissingApplicationUID, apperrors.Context{
			Path: "session.Session.UploadAssets",
		})
	}

	s.mu.Lock()
	bidFuture := s.buildID
	hlFuture := s.hashList
	s.buildConsumed = true
	startTime := s.startTime
	deps := s.federatedDeps
	s.mu.Unlock()
	if bidFuture == nil {
		s.StartNewBuild(ctx)
		s.mu.Lock()
		bidFuture = s.buildID
		hlFuture = s.hashList
		s.buildConsumed = true
		startTime = s.startTime
		s.mu.Unlock()
	}
	defer s.BuildFinished()

	buildID, err := bidFuture.wait(ctx)
	if err != nil {
		return nil, apperrors.WrapContext(err, apperrors.Context{
			Path:   "session.Session.UploadAssets",
			Params: apperrors.Params{"application_uid": s.applicationUID},
		})
	}
	known, _ := hlFuture.wait(ctx)
	if known == nil {
		known = assets.HashSet{}
	}

	missing := assetsMap.Missing(known)
	if skipped := len(assetsMap) - len(missing); skipped > 0 {
		if m := metrics.Get(); m != nil {
			m.AssetsSkipped.WithLabelValues(s.applicationUID).Add(float64(skipped))
		}
	}
	s.log.Info("computed missing assets",
		"build_id", buildID,
		"total", len(assetsMap),
		"missing", len(missing))

	snapshotID := deriveSnapshotID(s.applicationUID, buildID, s.git.Username)
	snap := snapshot.Build(snapshot.Params{
		SnapshotID:     snapshotID,
		ApplicationUID: s.applicationUID,
		BuildID:        buildID,
		Assets:         assetsMap,
		Git:            s.git,
		Environ:        s.environ,
		CI:             s.cfg.CI,
		CreatedAt:      s.clock.Now(),
	})

	depNames := make([]string, len(deps))
	for i, d := range deps {
		depNames[i] = d.Name
	}
	req := &strategy.Request{
		Snapshot: snap,
		Assets:   assetsMap,
		Missing:  missing,
		Stats: func(versionURL string) *edge.BuildStats {
			return &edge.BuildStats{
				ReportID:       uuid.NewString(),
				ApplicationUID: s.applicationUID,
				SnapshotID:     snapshotID,
				BuildID:        buildID,
				VersionURL:     versionURL,
				AssetsTotal:    len(assetsMap),
				AssetsUploaded: len(missing),
				BytesUploaded:  missing.TotalBytes(),
				Elapsed:        s.clock.Now().Sub(startTime),
				Dependencies:   depNames,
				CI:             s.cfg.CI,
			}
		},
	}

	res, err = s.runStrategy(ctx, req)
	if err != nil {
		return nil, err
	}
	res.SnapshotID = snapshotID
	res.BuildID = buildID

	s.mu.Lock()
	s.lastVersionURL = res.VersionURL
	s.mu.Unlock()

	// The hash-list write happens strictly after a successful upload,
	// and only when something was actually uploaded.
	if len(missing) > 0 {
		if err := s.hashes.Update(s.applicationUID, missing); err != nil {
			s.log.Warn("failed to persist uploaded hashes", "error", err)
		}
	}

	if s.cfg.CI {
		s.writeDeployResult(res)
	}
	return res, nil
}

// runStrategy picks single or multi-CDN by how many configurations the
// application has. An agent-level platform override pins the single
// path to that platform.
func (s *Session) runStrategy(ctx context.Context, req *strategy.Request) (*Result, error) {
	cfgs, err := s.configs.GetAll(ctx, s.applicationUID)
	if err != nil {
		s.log.Warn("multi-config lookup failed, falling back to single target", "error", err)
	}
	if len(cfgs) > 1 && s.cfg.Platform == "" {
		multi, err := s.deployer.DeployMulti(ctx, cfgs, req)
		if err != nil {
			return nil, err
		}
		return &Result{VersionURL: multi.PrimaryURL, AllURLs: multi.AllURLs}, nil
	}

	cfg, err := s.configs.Get(ctx, s.applicationUID)
	if err != nil {
		return nil, err
	}
	if s.cfg.Platform != "" {
		override := *cfg
		override.Platform = edge.Platform(s.cfg.Platform)
		cfg = &override
	}
	url, err := s.deployer.Deploy(ctx, cfg, req)
	if err != nil {
		return nil, err
	}
	return &Result{VersionURL: url, AllURLs: []string{url}}, nil
}

// BuildFinished emits the build summary and clears build-scoped state
// so the session can serve the next build.
func (s *Session) BuildFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.startTime.IsZero() && s.lastVersionURL != "" {
		names := make([]string, len(s.federatedDeps))
		for i, d := range s.federatedDeps {
			names[i] = d.Name
		}
		s.log.Info("build finished",
			"elapsed", s.clock.Now().Sub(s.startTime).Round(time.Millisecond),
			"dependencies", strings.Join(names, ","),
			"url", s.lastVersionURL)
	}

	s.buildID = nil
	s.hashList = nil
	s.buildConsumed = false
	s.startTime = time.Time{}
	s.federatedDeps = nil
}

var snapshotIDRx = regexp.MustCompile(`[^a-z0-9._-]+`)

// deriveSnapshotID builds the snapshot identity from the build id, the
// committing user, and the application identity.
func deriveSnapshotID(applicationUID, buildID, username string) string {
	if username == "" {
		username = "unknown"
	}
	id := fmt.Sprintf("%s_%s.%s", username, buildID, applicationUID)
	return snapshotIDRx.ReplaceAllString(strings.ToLower(id), "-")
}
