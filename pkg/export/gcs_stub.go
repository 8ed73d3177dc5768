//go:build !gcp

package export

import (
	"context"
	"fmt"
)

func newGCSStore(_ context.Context, _ string) (BundleStore, error) {
	return nil, fmt.Errorf("export: GCS storage is not enabled in this build (use -tags gcp)")
}
