package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"

	"votechain.org/internal/auth"
	"votechain.org/internal/biometric"
	"votechain.org/internal/eligibility"
	"votechain.org/internal/ledger"
	"votechain.org/internal/obs"
	"votechain.org/internal/registration"
	"votechain.org/internal/session"
	"votechain.org/internal/token"
	"votechain.org/internal/uploads"
	"votechain.org/internal/voter"
)

var rejectionStatus = map[eligibility.Reason]struct {
	code int
	msg  string
}{
	eligibility.ReasonNotFound:          {http.StatusNotFound, "Identity not found"},
	eligibility.ReasonIdentityMismatch:  {http.StatusUnauthorized, "Identity details do not match"},
	eligibility.ReasonUnderage:          {http.StatusForbidden, "Voter must be at least 18 years old"},
	eligibility.ReasonInvalidRecord:     {http.StatusForbidden, "Identity record is incomplete"},
	eligibility.ReasonExpired:           {http.StatusForbidden, "Identity card has expired"},
	eligibility.ReasonEmailConflict:     {http.StatusConflict, "Email is already registered to another identity"},
	eligibility.ReasonProofMissing:      {http.StatusUnauthorized, "No QR code found on the identity card"},
	eligibility.ReasonProofMismatch:     {http.StatusUnauthorized, "QR code does not match the identity record"},
	eligibility.ReasonBiometricMismatch: {http.StatusUnauthorized, "Face does not match"},
}

// handleError maps a failure from any service onto the HTTP error body.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *eligibility.Rejection
	if errors.As(err, &rej) {
		st, ok := rejectionStatus[rej.Reason]
		if !ok {
			st.code, st.msg = http.StatusForbidden, "Not eligible"
		}
		writeJSON(w, st.code, errorBody{
			Message:    st.msg,
			Error:      string(rej.Reason),
			RequestID:  RequestIDFromContext(r.Context()),
			Confidence: rej.Confidence,
		})
		return
	}

	code, errCode, msg := classify(err)
	if code >= http.StatusInternalServerError {
		obs.Error("request_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
	}
	writeError(w, r, code, errCode, msg)
}

func classify(err error) (int, string, string) {
	var (
		netErr    net.Error
		ledgerErr *ledger.Error
	)
	switch {
	case errors.Is(err, session.ErrLivenessFailed):
		return http.StatusUnauthorized, "liveness_failed", "Liveness check failed"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "invalid_session", "Session is missing or invalid"
	case errors.Is(err, token.ErrInvalidOrUsedToken):
		return http.StatusForbidden, "invalid_or_used_token", "Invalid or used token"
	case errors.Is(err, token.ErrInvalidCandidate):
		return http.StatusBadRequest, "invalid_candidate", "Invalid candidate"
	case errors.Is(err, token.ErrInactiveCandidate):
		return http.StatusBadRequest, "inactive_candidate", "Candidate not active"
	case errors.Is(err, registration.ErrTokenPending):
		return http.StatusServiceUnavailable, "token_pending", "Eligibility confirmed but the token could not be issued, please retry"
	case errors.Is(err, registration.ErrDeliveryFailed):
		return http.StatusServiceUnavailable, "delivery_failed", "Token issued but could not be delivered, please retry"
	case errors.Is(err, biometric.ErrNotConfigured), errors.Is(err, biometric.ErrUnavailable):
		return http.StatusServiceUnavailable, "biometric_unavailable", "Face comparison service unavailable"
	case errors.Is(err, token.ErrNotIssued), errors.As(err, &ledgerErr):
		return http.StatusServiceUnavailable, "ledger_unavailable", "Ledger unavailable"
	case errors.Is(err, uploads.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large", "Uploaded file is too large"
	case errors.Is(err, voter.ErrNotFound):
		return http.StatusNotFound, "not_found", "Not found"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return http.StatusServiceUnavailable, "unavailable", "Upstream service unavailable"
	default:
		return http.StatusInternalServerError, "internal", "Internal error"
	}
}
