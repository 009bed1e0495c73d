package gemini

import (
	"fmt"
	"strings"
)

// CredentialError means no usable API credential: missing key, or a key
// the service rejected. Terminal for the session; prompts re-configuration.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return "gemini: missing API credential"
	}
	return fmt.Sprintf("gemini: credential rejected: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// NetworkError covers every other connect failure. Fatal to the current
// session but not to the process.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gemini: connection failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// classifyConnectError types an open failure as credential vs network.
func classifyConnectError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"api key", "api_key", "unauthenticated", "permission_denied", "401", "403"} {
		if strings.Contains(msg, marker) {
			return &CredentialError{Err: err}
		}
	}
	return &NetworkError{Err: err}
}
