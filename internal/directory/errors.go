// internal/directory/errors.go
package directory

import (
	"errors"
	"fmt"

	"entrascope/pkg/retry"
)

type Kind string

const (
	// KindTransient covers network failures, timeouts, 5xx, 429 and 408; the
	// shared executor retries these before they surface.
	KindTransient Kind = "transient"
	// KindRejected covers other 4xx: bad permissions, conflicting app,
	// invalid tenant. Never retried.
	KindRejected Kind = "rejected"
	// KindUnknownTenant means the authority could not be resolved for the
	// given identifier; provisioning may fall back to the common authority.
	KindUnknownTenant Kind = "unknown_tenant"
	// KindConfiguration means the platform's own automation identity is
	// missing or unusable.
	KindConfiguration Kind = "configuration"
)

// Error is the uniform directory error surface. Remediation is always set for
// rejected and configuration errors since those require human follow-up.
type Error struct {
	Kind        Kind
	Status      int
	Message     string
	Remediation []string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("directory: %s (%s, status %d)", e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("directory: %s (%s)", e.Message, e.Kind)
}

func IsTransient(err error) bool { return kindOf(err) == KindTransient }
func IsRejected(err error) bool  { return kindOf(err) == KindRejected }
func IsUnknownTenant(err error) bool {
	return kindOf(err) == KindUnknownTenant
}

func kindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Classify turns an exhausted executor error into the directory taxonomy.
func Classify(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	var se *retry.StatusError
	if errors.As(err, &se) {
		if retry.Retryable(se.Status) {
			return &Error{Kind: KindTransient, Status: se.Status, Message: se.Message}
		}
		return &Error{
			Kind:    KindRejected,
			Status:  se.Status,
			Message: se.Message,
			Remediation: []string{
				"verify the automation identity has Application.ReadWrite.OwnedBy (or equivalent) in the target tenant",
				"check that an application with the same name does not already conflict",
			},
		}
	}
	return &Error{Kind: KindTransient, Message: err.Error()}
}
