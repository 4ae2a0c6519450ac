package capture

import "errors"

var (
	// ErrDecode means a raw artifact could not be normalized; nothing was queued
	ErrDecode = errors.New("artifact could not be read")

	// ErrStorage means the durable queue could not be read or written
	ErrStorage = errors.New("capture queue unavailable")

	// ErrOffline means analysis was attempted without connectivity
	ErrOffline = errors.New("device is offline")

	// ErrInference means the inference backend failed or returned unusable data
	ErrInference = errors.New("expense analysis failed")

	ErrNotFound           = errors.New("capture not found")
	ErrDuplicateItem      = errors.New("capture already queued")
	ErrAnalysisInProgress = errors.New("capture is already being analyzed")
	ErrNoSharedItem       = errors.New("no shared capture waiting")
)
