package repositories

import "errors"

// Sentinel failures surfaced by asset lookups. The service layer maps these
// onto its own taxonomy before anything reaches a handler.
var (
	// ErrAssetNotReady means post-processing has not finished, so no
	// download URL can be issued yet.
	ErrAssetNotReady = errors.New("asset: not ready")
	// ErrAssetSoftDeleted means the asset was tombstoned and must be
	// treated as absent.
	ErrAssetSoftDeleted = errors.New("asset: soft deleted")
)
