package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Remote and connectivity errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrOffline            = fmt.Errorf("network unreachable")
	ErrPermanent          = fmt.Errorf("permanent remote failure")

	// Provider errors
	ErrProviderNotFound = fmt.Errorf("provider not found")
	ErrItemNotFound     = fmt.Errorf("item not found")
	ErrUnitNotFound     = fmt.Errorf("unit not found")
	ErrUnsupported      = fmt.Errorf("operation not supported by provider")

	// Store errors
	ErrEntryNotFound    = fmt.Errorf("library entry not found")
	ErrMutationNotFound = fmt.Errorf("queued mutation not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
