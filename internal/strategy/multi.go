package strategy

import (
	"context"
	"sync"

	apperrors "github.com/beldeveloper/go-errors-context"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/edge"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/errtype"
)

// SecondaryResult records one successful secondary deployment.
type SecondaryResult struct {
	Platform        edge.Platform
	IntegrationName string
	URL             string
}

// MultiResult is the outcome of a multi-CDN deployment.
type MultiResult struct {
	PrimaryURL  string
	Secondaries []SecondaryResult
	AllURLs     []string
}

// DeployMulti publishes one build to every configured CDN target. The
// primary target gates the rest: its failure aborts the deployment
// before any secondary is attempted. Secondaries run in parallel and
// fail independently; a secondary failure never fails the deployment.
func (d *Deployer) DeployMulti(ctx context.Context, cfgs []edge.ApplicationConfig, req *Request) (*MultiResult, error) {
	if len(cfgs) == 0 {
		return nil, apperrors.WrapContext(errtype.ErrNoConfigs, apperrors.Context{
			Path: "strategy.Deployer.DeployMulti",
		})
	}

	primary, secondaries := splitPrimary(cfgs)

	primaryURL, err := d.deployTarget(ctx, &primary, req)
	if err != nil {
		d.log.Error("primary CDN deployment failed",
			"platform", primary.Platform,
			"error", err)
		d.reportResults(ctx, []edge.DeploymentResult{
			d.result(&primary, req, edge.DeployStatusFailed, "", err),
		})
		return nil, apperrors.WrapContext(errtype.ErrPrimaryDeployFailed, apperrors.Context{
			Path:   "strategy.Deployer.DeployMulti",
			Params: apperrors.Params{"platform": string(primary.Platform), "cause": err.Error()},
		})
	}

	d.log.Info("primary CDN deployment succeeded",
		"platform", primary.Platform,
		"url", primaryURL)
	d.reportResults(ctx, []edge.DeploymentResult{
		d.result(&primary, req, edge.DeployStatusSuccess, primaryURL, nil),
	})

	outcomes := make([]edge.DeploymentResult, len(secondaries))
	urls := make([]string, len(secondaries))
	var wg sync.WaitGroup
	for i := range secondaries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg := &secondaries[i]
			url, err := d.deployTarget(ctx, cfg, req)
			if err != nil {
				d.log.Warn("secondary CDN deployment failed",
					"platform", cfg.Platform,
					"error", err)
				outcomes[i] = d.result(cfg, req, edge.DeployStatusFailed, "", err)
				return
			}
			urls[i] = url
			outcomes[i] = d.result(cfg, req, edge.DeployStatusSuccess, url, nil)
		}()
	}
	wg.Wait()

	if len(outcomes) > 0 {
		d.reportResults(ctx, outcomes)
	}

	res := &MultiResult{
		PrimaryURL: primaryURL,
		AllURLs:    []string{primaryURL},
	}
	for i, cfg := range secondaries {
		if urls[i] == "" {
			continue
		}
		name := ""
		if cfg.Metadata != nil {
			name = cfg.Metadata.IntegrationName
		}
		res.Secondaries = append(res.Secondaries, SecondaryResult{
			Platform:        cfg.Platform,
			IntegrationName: name,
			URL:             urls[i],
		})
		res.AllURLs = append(res.AllURLs, urls[i])
	}

	d.reportStats(ctx, req, primaryURL)
	return res, nil
}

// splitPrimary picks the primary target. When no configuration is
// marked primary the first one serves.
func splitPrimary(cfgs []edge.ApplicationConfig) (edge.ApplicationConfig, []edge.ApplicationConfig) {
	idx := 0
	for i, cfg := range cfgs {
		if cfg.Metadata != nil && cfg.Metadata.IsPrimary {
			idx = i
			break
		}
	}
	rest := make([]edge.ApplicationConfig, 0, len(cfgs)-1)
	rest = append(rest, cfgs[:idx]...)
	rest = append(rest, cfgs[idx+1:]...)
	return cfgs[idx], rest
}

func (d *Deployer) result(cfg *edge.ApplicationConfig, req *Request, status edge.DeployStatus, url string, err error) edge.DeploymentResult {
	r := edge.DeploymentResult{
		ApplicationUID: cfg.ApplicationUID,
		SnapshotID:     req.Snapshot.SnapshotID,
		Platform:       cfg.Platform,
		Status:         status,
		URL:            url,
		Timestamp:      d.clock.Now().UTC(),
	}
	if cfg.Metadata != nil {
		r.IntegrationID = cfg.Metadata.IntegrationID
		r.IntegrationName = cfg.Metadata.IntegrationName
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// reportResults posts deployment results. Best-effort.
func (d *Deployer) reportResults(ctx context.Context, results []edge.DeploymentResult) {
	token, err := d.tokens.CheckAuth(ctx)
	if err != nil {
		d.log.Warn("skipping deployment results report", "error", err)
		return
	}
	if err := d.reporter.PostDeploymentResults(ctx, token, results); err != nil {
		d.log.Warn("failed to report deployment results", "error", err)
	}
}
