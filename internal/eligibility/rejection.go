package eligibility

import "fmt"

// Reason names why a registration or login was refused.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonIdentityMismatch  Reason = "identity_mismatch"
	ReasonUnderage          Reason = "underage"
	ReasonInvalidRecord     Reason = "invalid_record"
	ReasonExpired           Reason = "expired"
	ReasonEmailConflict     Reason = "email_conflict"
	ReasonProofMissing      Reason = "proof_missing"
	ReasonProofMismatch     Reason = "proof_mismatch"
	ReasonBiometricMismatch Reason = "biometric_mismatch"
)

// Rejection is a business outcome, not a system fault. Confidence is set only when a
// biometric score was obtained.
type Rejection struct {
	Reason     Reason
	Detail     string
	Confidence *float64
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("eligibility: %s: %s", r.Reason, r.Detail)
	}
	return "eligibility: " + string(r.Reason)
}

// Is matches any Rejection with the same reason.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

var (
	ErrNotFound          = &Rejection{Reason: ReasonNotFound}
	ErrIdentityMismatch  = &Rejection{Reason: ReasonIdentityMismatch}
	ErrUnderage          = &Rejection{Reason: ReasonUnderage}
	ErrInvalidRecord     = &Rejection{Reason: ReasonInvalidRecord}
	ErrExpired           = &Rejection{Reason: ReasonExpired}
	ErrEmailConflict     = &Rejection{Reason: ReasonEmailConflict}
	ErrProofMissing      = &Rejection{Reason: ReasonProofMissing}
	ErrProofMismatch     = &Rejection{Reason: ReasonProofMismatch}
	ErrBiometricMismatch = &Rejection{Reason: ReasonBiometricMismatch}
)

func reject(reason Reason, detail string) *Rejection {
	return &Rejection{Reason: reason, Detail: detail}
}

func rejectScored(reason Reason, confidence float64) *Rejection {
	return &Rejection{Reason: reason, Confidence: &confidence}
}
