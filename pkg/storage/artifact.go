package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/mimir-aip/triage-ml/pkg/config"
	"github.com/mimir-aip/triage-ml/pkg/models"
)

// DefaultRetain is how many versions per kind are kept when none is configured
const DefaultRetain = 5

// CurrentPointer names the object that records the latest version of a kind
const CurrentPointer = "CURRENT"

// ArtifactStore persists immutable, versioned model artifacts. Save writes a
// new version and then moves the current pointer to it, so Load never sees a
// partially written blob.
type ArtifactStore interface {
	// Save stores blob as a new version of kind and makes it current
	Save(ctx context.Context, kind models.ModelKind, blob []byte) (string, error)

	// Load returns the current version of kind, or models.ErrNotFound
	Load(ctx context.Context, kind models.ModelKind) ([]byte, string, error)

	// Versions lists the retained versions of kind, oldest first
	Versions(ctx context.Context, kind models.ModelKind) ([]string, error)
}

// Open builds the artifact store selected by cfg
func Open(ctx context.Context, cfg config.ArtifactsConfig) (ArtifactStore, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileArtifactStore(cfg.Dir, cfg.Retain)
	case "s3":
		return NewS3ArtifactStoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

func newVersion() string {
	return ulid.Make().String()
}

func validKind(kind models.ModelKind) error {
	switch kind {
	case models.ModelKindRiskClassifier, models.ModelKindPatientCluster:
		return nil
	default:
		return fmt.Errorf("%w: unknown artifact kind %q", models.ErrValidation, kind)
	}
}

// staleVersions returns the versions to delete so that at most retain remain.
// The current version is never returned.
func staleVersions(versions []string, current string, retain int) []string {
	if retain < 1 {
		retain = DefaultRetain
	}
	sorted := append([]string(nil), versions...)
	sort.Strings(sorted)
	if len(sorted) <= retain {
		return nil
	}
	var stale []string
	for _, v := range sorted[:len(sorted)-retain] {
		if v != current {
			stale = append(stale, v)
		}
	}
	return stale
}
