package schema

import "fmt"

// ConfigError reports a missing provider, credential, or model. It is fatal to
// the turn and never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "configuration: " + e.Reason }

// TransportError reports a connection-level failure (refused, DNS, timeout)
// before any backend response was received.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderHTTPError reports a non-2xx backend response. Adapters map the
// status to actionable text via their ErrorMessage method.
type ProviderHTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.Status, e.Body)
}

// ToolLoopLimitError reports that a turn exceeded the configured maximum
// number of tool-loop rounds without producing a tool-free response.
type ToolLoopLimitError struct {
	Limit int
}

func (e *ToolLoopLimitError) Error() string {
	return fmt.Sprintf("tool loop exceeded %d rounds without completing", e.Limit)
}

// GatewayError is the single annotated error shape every backend failure is
// wrapped into before reaching the caller.
type GatewayError struct {
	Message  string
	Provider string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (provider %s): %v", e.Message, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s (provider %s)", e.Message, e.Provider)
}

func (e *GatewayError) Unwrap() error { return e.Err }
