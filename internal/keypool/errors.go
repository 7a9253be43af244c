package keypool

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidCredentials means the pool has nothing left to hand out.
	// Callers should treat it as "service unavailable" and not retry.
	ErrNoValidCredentials = errors.New("keypool: no valid credentials")

	// ErrBlackoutActive is returned by Issue inside the blackout window.
	ErrBlackoutActive = errors.New("keypool: blackout window active")

	// ErrCredentialCoolingDown is returned by Issue when the current
	// credential has not finished its cooldown.
	ErrCredentialCoolingDown = errors.New("keypool: current credential is cooling down")
)

// FailureKind classifies a downstream failure for the orchestrator.
type FailureKind int

const (
	FailureOther                FailureKind = iota // Unclassified, never retried
	FailureRateLimited                             // 429 and friends
	FailureInvalidCredential                       // 400/401/403, bad key
	FailureScheduledUnavailable                    // backend is on a scheduled break
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureInvalidCredential:
		return "invalid_credential"
	case FailureScheduledUnavailable:
		return "scheduled"
	default:
		return "other"
	}
}

// Failure carries a downstream error together with its classification.
// It is produced by the integration's error-mapping layer.
type Failure struct {
	Kind FailureKind
	Err  error
}

// NewFailure wraps err with the given kind. A nil err yields nil.
func NewFailure(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Err: err}
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("keypool: %s failure", f.Kind)
	}
	return f.Err.Error()
}

// Unwrap implements error unwrapping
func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf reports the classification of err. Errors that carry no
// *Failure are FailureOther.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureOther
}
