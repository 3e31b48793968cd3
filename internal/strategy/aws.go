package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/edge"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/snapshot"
)

// MaxPayloadBytes is the largest body the AWS edge worker accepts.
// The worker re-encodes bodies as base64, so the usable ceiling is
// 1 MiB / 1.33.
const MaxPayloadBytes = 788403

// deployAWS publishes to the AWS target. The edge worker there cannot
// accept oversized bodies, so every payload is checked up front and a
// violation aborts the deployment before any network call. Asset
// uploads are serialized after an explicit bucket-initialization call.
func (d *Deployer) deployAWS(ctx context.Context, cfg *edge.ApplicationConfig, req *Request) (string, error) {
	body, err := marshalSnapshot(req.Snapshot)
	if err != nil {
		return "", err
	}
	if len(body) > MaxPayloadBytes {
		return "", sizeGuardError("snapshot", len(body))
	}
	for _, a := range req.Missing {
		if int(a.Size) > MaxPayloadBytes {
			return "", sizeGuardError(a.Path, int(a.Size))
		}
	}

	if err := d.uploader.CreateBucket(ctx, cfg); err != nil {
		return "", err
	}
	for _, a := range req.Missing {
		if err := d.uploader.UploadFile(ctx, cfg, a); err != nil {
			return "", err
		}
	}

	urls, err := d.uploader.UploadSnapshot(ctx, cfg, req.Snapshot)
	if err != nil {
		return "", err
	}
	return urls.Version, nil
}

func marshalSnapshot(snap *snapshot.Snapshot) ([]byte, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	return body, nil
}
