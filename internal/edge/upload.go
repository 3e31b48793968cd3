package edge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/assets"
)

// CreateBucket initializes the per-application bucket on the edge.
// Only the AWS strategy calls this before uploading.
func (c *Client) CreateBucket(ctx context.Context, edgeURL, jwt string) error {
	u := edgeURL + "/upload?type=bucket"
	headers := map[string]string{
		"can_write_jwt": jwt,
	}
	if err := c.doJSON(ctx, http.MethodPost, u, headers, nil, nil); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// UploadFile sends one asset's raw bytes to the edge.
func (c *Client) UploadFile(ctx context.Context, edgeURL, jwt string, a assets.Asset) error {
	u := fmt.Sprintf("%s/upload?type=file&hash=%s&filename=%s",
		edgeURL, url.QueryEscape(a.Hash), url.QueryEscape(a.Path))
	headers := map[string]string{
		"Content-Type":  "application/octet-stream",
		"x-file-size":   strconv.FormatInt(a.Size, 10),
		"x-file-path":   a.Path,
		"can_write_jwt": jwt,
	}
	if err := c.doJSON(ctx, http.MethodPost, u, headers, a.Content, nil); err != nil {
		return fmt.Errorf("upload file %s: %w", a.Path, err)
	}
	return nil
}

// UploadSnapshot submits the JSON manifest and returns the edge-issued
// URLs. Callers must treat a response without a version URL as failed.
func (c *Client) UploadSnapshot(ctx context.Context, edgeURL, jwt string, body []byte) (*SnapshotURLs, error) {
	u := edgeURL + "/upload?type=snapshot&skip_assets=true"
	headers := map[string]string{
		"Content-Type":  "application/json",
		"can_write_jwt": jwt,
	}

	var result struct {
		URLs SnapshotURLs `json:"urls"`
	}
	if err := c.doJSON(ctx, http.MethodPost, u, headers, body, &result); err != nil {
		return nil, fmt.Errorf("upload snapshot: %w", err)
	}
	return &result.URLs, nil
}

// GetHashList fetches the full list of content hashes the edge already
// has for an application.
func (c *Client) GetHashList(ctx context.Context, edgeURL, applicationUID string) ([]string, error) {
	u := edgeURL + "/__get_application_hash_list__?application_uid=" + url.QueryEscape(applicationUID)

	var result struct {
		Hashes []string `json:"hashes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, u, nil, nil, &result); err != nil {
		return nil, fmt.Errorf("get hash list: %w", err)
	}
	return result.Hashes, nil
}
