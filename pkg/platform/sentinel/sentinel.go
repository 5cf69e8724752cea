package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and upstream adapters return
// these (optionally wrapped) so services can translate them into domain errors.
//
// For validation failures use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
)
