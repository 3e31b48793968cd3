package edge

import "time"

// Platform identifies which CDN strategy applies to an application.
// The set is closed; unknown platforms are an explicit error at
// strategy selection.
type Platform string

const (
	PlatformCloudflare Platform = "cloudflare"
	PlatformNetlify    Platform = "netlify"
	PlatformFastly     Platform = "fastly"
	PlatformAWS        Platform = "aws"
)

// ApplicationConfig is the routing/auth snapshot for one application:
// where to upload and the short-lived token that authorizes writes.
type ApplicationConfig struct {
	ApplicationUID string   `json:"application_uid"`
	EdgeURL        string   `json:"edge_url"`
	Jwt            string   `json:"jwt"`
	Platform       Platform `json:"platform"`

	// FetchedAt is stamped by the configuration cache, not the wire.
	FetchedAt time.Time `json:"fetched_at,omitempty"`

	// Metadata tags multi-CDN configs with their target integration.
	Metadata *ConfigMetadata `json:"_metadata,omitempty"`
}

// ConfigMetadata identifies one multi-CDN target.
type ConfigMetadata struct {
	IsPrimary       bool   `json:"isPrimary"`
	IntegrationName string `json:"integrationName,omitempty"`
	IntegrationID   string `json:"integrationId,omitempty"`
}

// SnapshotURLs is the edge's response to a snapshot upload. Version is
// mandatory; a response without it is treated as a failed upload.
type SnapshotURLs struct {
	Version string `json:"version"`
	Latest  string `json:"latest,omitempty"`
	Tag     string `json:"tag,omitempty"`
}

// DeployStatus is the outcome of publishing to one CDN target.
type DeployStatus string

const (
	DeployStatusSuccess DeployStatus = "SUCCESS"
	DeployStatusFailed  DeployStatus = "FAILED"
	DeployStatusPending DeployStatus = "PENDING"
)

// DeploymentResult records the outcome of one CDN target in a
// multi-CDN deployment.
type DeploymentResult struct {
	ApplicationUID  string       `json:"application_uid"`
	SnapshotID      string       `json:"snapshot_id"`
	IntegrationID   string       `json:"integration_id,omitempty"`
	IntegrationName string       `json:"integration_name,omitempty"`
	Platform        Platform     `json:"platform"`
	Status          DeployStatus `json:"status"`
	URL             string       `json:"url,omitempty"`
	Error           string       `json:"error,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// ResolvedDependency is a federated remote resolved against the edge.
type ResolvedDependency struct {
	Name           string `json:"name"`
	Version        string `json:"version,omitempty"`
	ApplicationUID string `json:"application_uid"`
	RemoteEntryURL string `json:"remote_entry_url"`
}

// BuildStats is the aggregate report sent after a deployment. It is
// observability only: reporting failures never fail a build.
type BuildStats struct {
	ReportID       string        `json:"report_id"`
	ApplicationUID string        `json:"application_uid"`
	SnapshotID     string        `json:"snapshot_id"`
	BuildID        string        `json:"build_id"`
	VersionURL     string        `json:"version_url,omitempty"`
	AssetsTotal    int           `json:"assets_total"`
	AssetsUploaded int           `json:"assets_uploaded"`
	BytesUploaded  int64         `json:"bytes_uploaded"`
	Elapsed        time.Duration `json:"elapsed_ms"`
	Dependencies   []string      `json:"dependencies,omitempty"`
	CI             bool          `json:"ci"`
}
