// Package upload is the authenticated transport for asset and snapshot
// uploads: JWT pre-flight, and a single retry with refreshed
// credentials when the edge rejects a token it previously issued.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/beldeveloper/go-errors-context"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/assets"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/auth"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/clock"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/edge"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/errtype"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/metrics"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/snapshot"
)

// Transport is the wire-client subset the uploader drives.
type Transport interface {
	CreateBucket(ctx context.Context, edgeURL, jwt string) error
	UploadFile(ctx context.Context, edgeURL, jwt string, a assets.Asset) error
	UploadSnapshot(ctx context.Context, edgeURL, jwt string, body []byte) (*edge.SnapshotURLs, error)
}

// ConfigSource resolves and refreshes application configurations.
type ConfigSource interface {
	Refresh(ctx context.Context, applicationUID string) (*edge.ApplicationConfig, error)
	Invalidate()
}

// Credentials is the credential-store subset the retry path needs.
type Credentials interface {
	CheckAuth(ctx context.Context) (string, error)
	Invalidate()
}

// Uploader performs JWT-gated uploads. Both operations retry at most
// once, with a freshly fetched configuration, and only when the
// failure is auth-class.
type Uploader struct {
	transport Transport
	configs   ConfigSource
	creds     Credentials
	clock     clock.Clock
	log       *slog.Logger
	safetyGap time.Duration
}

// New creates an uploader.
func New(transport Transport, configs ConfigSource, creds Credentials, clk clock.Clock) *Uploader {
	return &Uploader{
		transport: transport,
		configs:   configs,
		creds:     creds,
		clock:     clk,
		log:       logging.Component("upload"),
		safetyGap: auth.DefaultSafetyGap,
	}
}

// CreateBucket initializes the per-application bucket. AWS only.
func (u *Uploader) CreateBucket(ctx context.Context, cfg *edge.ApplicationConfig) error {
	return u.do(ctx, cfg, "bucket", func(cfg *edge.ApplicationConfig) error {
		return u.transport.CreateBucket(ctx, cfg.EdgeURL, cfg.Jwt)
	})
}

// UploadFile sends one asset to the edge.
func (u *Uploader) UploadFile(ctx context.Context, cfg *edge.ApplicationConfig, a assets.Asset) error {
	start := u.clock.Now()
	err := u.do(ctx, cfg, "file", func(cfg *edge.ApplicationConfig) error {
		return u.transport.UploadFile(ctx, cfg.EdgeURL, cfg.Jwt, a)
	})
	if err != nil {
		return apperrors.WrapContext(err, apperrors.Context{
			Path:   "upload.Uploader.UploadFile",
			Params: apperrors.Params{"hash": a.Hash, "path": a.Path, "size": a.Size},
		})
	}
	if m := metrics.Get(); m != nil {
		m.AssetsUploaded.WithLabelValues(cfg.ApplicationUID).Inc()
		m.UploadBytes.WithLabelValues(cfg.ApplicationUID).Add(float64(a.Size))
		m.UploadDuration.WithLabelValues(cfg.ApplicationUID).Observe(u.clock.Now().Sub(start).Seconds())
	}
	return nil
}

// UploadSnapshot submits the manifest and returns the edge-issued URLs.
// A response without a version URL is a failure even when the HTTP
// layer reported success.
func (u *Uploader) UploadSnapshot(ctx context.Context, cfg *edge.ApplicationConfig, snap *snapshot.Snapshot) (*edge.SnapshotURLs, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	var urls *edge.SnapshotURLs
	err = u.do(ctx, cfg, "snapshot", func(cfg *edge.ApplicationConfig) error {
		var opErr error
		urls, opErr = u.transport.UploadSnapshot(ctx, cfg.EdgeURL, cfg.Jwt, body)
		return opErr
	})
	if err != nil {
		return nil, apperrors.WrapContext(err, apperrors.Context{
			Path:   "upload.Uploader.UploadSnapshot",
			Params: apperrors.Params{"application_uid": snap.ApplicationUID, "snapshot_id": snap.SnapshotID},
		})
	}

	if urls == nil || urls.Version == "" {
		return nil, apperrors.WrapContext(errtype.ErrSnapshotNoResults, apperrors.Context{
			Path:   "upload.Uploader.UploadSnapshot",
			Params: apperrors.Params{"application_uid": snap.ApplicationUID},
		})
	}

	if m := metrics.Get(); m != nil {
		m.SnapshotsWritten.WithLabelValues(snap.ApplicationUID).Inc()
	}
	return urls, nil
}

// do runs one upload operation under the retry contract: a pre-flight
// token check that fails fast, then the call, then at most one retry
// with refreshed credentials when the error is auth-class.
func (u *Uploader) do(ctx context.Context, cfg *edge.ApplicationConfig, kind string, op func(cfg *edge.ApplicationConfig) error) error {
	// Pre-flight: an already-expired write token never reaches the
	// wire. Re-auth is triggered so the next attempt can succeed, but
	// this call fails fast; the caller re-resolves config and retries.
	if auth.TokenExpired(cfg.Jwt, u.safetyGap, u.clock.Now()) {
		u.creds.Invalidate()
		if _, err := u.creds.CheckAuth(ctx); err != nil {
			u.log.Warn("re-authentication failed", "error", err)
		}
		u.configs.Invalidate()
		return fmt.Errorf("%w: write token expired before %s upload", errtype.ErrJWTInvalid, kind)
	}

	err := op(cfg)
	if err == nil {
		return nil
	}
	if !edge.IsAuthError(err) {
		return &errtype.UploadError{Kind: kind, Err: err}
	}

	// Auth-class rejection: refresh credentials and configuration,
	// then retry exactly once.
	u.log.Info("upload rejected for auth reasons, refreshing credentials", "kind", kind)
	u.creds.Invalidate()
	if _, authErr := u.creds.CheckAuth(ctx); authErr != nil {
		return fmt.Errorf("%w: re-authentication failed: %w", errtype.ErrJWTInvalid, authErr)
	}
	u.configs.Invalidate()

	fresh, cfgErr := u.configs.Refresh(ctx, cfg.ApplicationUID)
	if cfgErr != nil {
		return cfgErr
	}

	if m := metrics.Get(); m != nil {
		m.RetryAttempts.WithLabelValues(kind).Inc()
	}

	err = op(fresh)
	if err == nil {
		return nil
	}
	if edge.IsAuthError(err) {
		return fmt.Errorf("%w: %w", errtype.ErrJWTInvalid, err)
	}
	return &errtype.UploadError{Kind: kind, Err: err}
}
