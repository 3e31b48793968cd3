// Package strategy orchestrates one deployment per target platform:
// single-CDN uploads (common and AWS variants) and the multi-CDN
// primary/secondary fan-out.
package strategy

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/beldeveloper/go-errors-context"
	"golang.org/x/sync/errgroup"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/assets"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/clock"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/edge"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/errtype"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/metrics"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/snapshot"
)

// maxConcurrentUploads bounds the per-deployment asset upload fan-out.
const maxConcurrentUploads = 8

// AssetUploader is the transport the strategies drive.
type AssetUploader interface {
	CreateBucket(ctx context.Context, cfg *edge.ApplicationConfig) error
	UploadFile(ctx context.Context, cfg *edge.ApplicationConfig, a assets.Asset) error
	UploadSnapshot(ctx context.Context, cfg *edge.ApplicationConfig, snap *snapshot.Snapshot) (*edge.SnapshotURLs, error)
}

// Reporter posts build statistics and deployment results. Reporting is
// observability: every failure here is logged and swallowed.
type Reporter interface {
	PostBuildStats(ctx context.Context, token string, stats *edge.BuildStats) error
	PostDeploymentResults(ctx context.Context, token string, results []edge.DeploymentResult) error
}

// TokenSource supplies the bearer token for reporting calls.
type TokenSource interface {
	CheckAuth(ctx context.Context) (string, error)
}

// Request carries one deployment's inputs. The snapshot is built once
// by the session and reused by every target.
type Request struct {
	Snapshot *snapshot.Snapshot
	Assets   assets.Map // the full asset map
	Missing  assets.Map // the subset the edge does not have yet

	// Stats produces the statistics document for a finished
	// deployment, tagged with its version URL.
	Stats func(versionURL string) *edge.BuildStats
}

// Deployer executes deployments.
type Deployer struct {
	uploader AssetUploader
	reporter Reporter
	tokens   TokenSource
	clock    clock.Clock
	log      *slog.Logger
}

// NewDeployer creates a deployer.
func NewDeployer(uploader AssetUploader, reporter Reporter, tokens TokenSource, clk clock.Clock) *Deployer {
	return &Deployer{
		uploader: uploader,
		reporter: reporter,
		tokens:   tokens,
		clock:    clk,
		log:      logging.Component("strategy"),
	}
}

// Deploy publishes one build to a single CDN target, dispatching on the
// platform the configuration reports. It returns the version URL.
func (d *Deployer) Deploy(ctx context.Context, cfg *edge.ApplicationConfig, req *Request) (string, error) {
	versionURL, err := d.deployTarget(ctx, cfg, req)
	if err != nil {
		return "", err
	}
	d.reportStats(ctx, req, versionURL)
	return versionURL, nil
}

// deployTarget runs the platform-specific upload flow for one target.
func (d *Deployer) deployTarget(ctx context.Context, cfg *edge.ApplicationConfig, req *Request) (string, error) {
	start := d.clock.Now()

	var versionURL string
	var err error
	switch cfg.Platform {
	case edge.PlatformCloudflare, edge.PlatformNetlify, edge.PlatformFastly:
		versionURL, err = d.deployCommon(ctx, cfg, req)
	case edge.PlatformAWS:
		versionURL, err = d.deployAWS(ctx, cfg, req)
	default:
		err = apperrors.WrapContext(errtype.ErrUnsupportedPlatform, apperrors.Context{
			Path:   "strategy.Deployer.Deploy",
			Params: apperrors.Params{"platform": string(cfg.Platform)},
		})
	}

	if m := metrics.Get(); m != nil {
		status := "success"
		if err != nil {
			status = "failed"
		}
		m.Deployments.WithLabelValues(string(cfg.Platform), status).Inc()
		m.DeployDuration.WithLabelValues(string(cfg.Platform)).Observe(d.clock.Now().Sub(start).Seconds())
	}
	if err != nil {
		return "", err
	}
	return versionURL, nil
}

// deployCommon uploads the snapshot and the missing assets
// concurrently; neither ordering matters to the edge.
func (d *Deployer) deployCommon(ctx context.Context, cfg *edge.ApplicationConfig, req *Request) (string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUploads)

	var urls *edge.SnapshotURLs
	g.Go(func() error {
		var err error
		urls, err = d.uploader.UploadSnapshot(gctx, cfg, req.Snapshot)
		return err
	})

	for _, a := range req.Missing {
		g.Go(func() error {
			return d.uploader.UploadFile(gctx, cfg, a)
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}
	return urls.Version, nil
}

// reportStats posts the build statistics, tagged with the version URL.
// Best-effort: a reporting failure never fails a deployment.
func (d *Deployer) reportStats(ctx context.Context, req *Request, versionURL string) {
	if req.Stats == nil {
		return
	}
	token, err := d.tokens.CheckAuth(ctx)
	if err != nil {
		d.log.Warn("skipping build stats report", "error", err)
		return
	}
	if err := d.reporter.PostBuildStats(ctx, token, req.Stats(versionURL)); err != nil {
		d.log.Warn("failed to report build stats", "error", err)
	}
}

// sizeGuardError names the offending entity of a payload-size failure.
func sizeGuardError(entity string, size int) error {
	return fmt.Errorf("payload guard: %w", &errtype.PayloadSizeError{
		Entity: entity,
		Size:   size,
		Limit:  MaxPayloadBytes,
	})
}
