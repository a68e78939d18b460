package scrape

import "errors"

var (
	// ErrProviderBusy means another job of the provider is running
	ErrProviderBusy = errors.New("provider already has a running job")
	// ErrJobAlreadyFinalized means the job left running before this finalization
	ErrJobAlreadyFinalized = errors.New("job already finalized")
)

// Skip reasons reported when Execute does not start a job
const (
	SkipUnknownProvider  = "unknown_provider"
	SkipInactiveProvider = "inactive_provider"
	SkipMinSpacing       = "min_spacing"
	SkipProviderBusy     = "provider_busy"
)
