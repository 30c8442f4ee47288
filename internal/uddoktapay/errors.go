package uddoktapay

import "fmt"

// ValidationError reports bad input detected locally, before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "uddoktapay: " + e.Message
	}
	return fmt.Sprintf("uddoktapay: %s: %s", e.Field, e.Message)
}

// AuthError reports a webhook whose shared-secret header is missing or wrong.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	return "uddoktapay: webhook unauthorized: " + e.Reason
}

// ProviderError reports an upstream failure. Transport is set when the
// provider could not be reached or answered with a 5xx, i.e. when trying
// again later may succeed.
type ProviderError struct {
	Operation  string
	StatusCode int
	Message    string
	Transport  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("uddoktapay: %s failed (status %d): %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("uddoktapay: %s failed: %s", e.Operation, e.Message)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
