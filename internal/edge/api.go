package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// GetApplicationConfig fetches the routing/auth snapshot for one
// application from the API.
func (c *Client) GetApplicationConfig(ctx context.Context, token, applicationUID string) (*ApplicationConfig, error) {
	u := c.apiBaseURL + "/application-config/" + url.PathEscape(applicationUID)
	headers := map[string]string{"Authorization": bearer(token)}

	var result struct {
		Value ApplicationConfig `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, u, headers, nil, &result); err != nil {
		return nil, fmt.Errorf("get application config: %w", err)
	}
	return &result.Value, nil
}

// GetApplicationConfigs fetches the multi-CDN configuration set: one
// config per integration, tagged primary or secondary.
func (c *Client) GetApplicationConfigs(ctx context.Context, token, applicationUID string) ([]ApplicationConfig, error) {
	u := c.apiBaseURL + "/application-config/" + url.PathEscape(applicationUID) + "?multi=true"
	headers := map[string]string{"Authorization": bearer(token)}

	var result struct {
		Entities []ApplicationConfig `json:"entities"`
	}
	if err := c.doJSON(ctx, http.MethodGet, u, headers, nil, &result); err != nil {
		return nil, fmt.Errorf("get application configs: %w", err)
	}
	return result.Entities, nil
}

// CreateBuildID asks the API to issue a build id for an application.
func (c *Client) CreateBuildID(ctx context.Context, token, applicationUID string) (string, error) {
	u := c.apiBaseURL + "/builds/id"
	headers := map[string]string{
		"Authorization": bearer(token),
		"Content-Type":  "application/json",
	}

	body, err := json.Marshal(map[string]string{"application_uid": applicationUID})
	if err != nil {
		return "", fmt.Errorf("encode build id request: %w", err)
	}

	var result struct {
		BuildID string `json:"build_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, u, headers, body, &result); err != nil {
		return "", fmt.Errorf("create build id: %w", err)
	}
	if result.BuildID == "" {
		return "", fmt.Errorf("create build id: empty id in response")
	}
	return result.BuildID, nil
}

// ResolveDependency resolves a federated remote's uid to its deployed
// remote-entry URL.
func (c *Client) ResolveDependency(ctx context.Context, token, applicationUID string) (*ResolvedDependency, error) {
	u := c.apiBaseURL + "/resolve?uid=" + url.QueryEscape(applicationUID)
	headers := map[string]string{"Authorization": bearer(token)}

	var result ResolvedDependency
	if err := c.doJSON(ctx, http.MethodGet, u, headers, nil, &result); err != nil {
		return nil, fmt.Errorf("resolve dependency %s: %w", applicationUID, err)
	}
	return &result, nil
}

// PostBuildStats reports aggregate build statistics. Callers treat
// failures as observability loss, never as a deployment failure.
func (c *Client) PostBuildStats(ctx context.Context, token string, stats *BuildStats) error {
	u := c.apiBaseURL + "/builds/stats"
	headers := map[string]string{
		"Authorization": bearer(token),
		"Content-Type":  "application/json",
	}

	body, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode build stats: %w", err)
	}
	if err := c.doJSON(ctx, http.MethodPost, u, headers, body, nil); err != nil {
		return fmt.Errorf("post build stats: %w", err)
	}
	return nil
}

// PostDeploymentResults reports a batch of per-target deployment
// outcomes for a multi-CDN deployment.
func (c *Client) PostDeploymentResults(ctx context.Context, token string, results []DeploymentResult) error {
	u := c.apiBaseURL + "/deployments/results"
	headers := map[string]string{
		"Authorization": bearer(token),
		"Content-Type":  "application/json",
	}

	body, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return fmt.Errorf("encode deployment results: %w", err)
	}
	if err := c.doJSON(ctx, http.MethodPost, u, headers, body, nil); err != nil {
		return fmt.Errorf("post deployment results: %w", err)
	}
	return nil
}
