package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"votechain.org/internal/audit"
	"votechain.org/internal/auth"
	"votechain.org/internal/eligibility"
	"votechain.org/internal/ledger"
	"votechain.org/internal/registration"
	"votechain.org/internal/session"
	"votechain.org/internal/stream"
	"votechain.org/internal/voter"
)

const multipartMemory = 1 << 20

type registerResponse struct {
	Message    string    `json:"message"`
	TxHash     *string   `json:"tx_hash"`
	Reused     bool      `json:"reused"`
	Confidence float64   `json:"confidence"`
	ExpiresAt  time.Time `json:"expires_at"`
	QRVerified bool      `json:"qr_verified"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if a.deps.Registration == nil || a.deps.Uploads == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "registration is disabled")
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "validation", "multipart form expected")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := eligibility.Request{
		IDNumber: strings.TrimSpace(r.FormValue("id_number")),
		NameEN:   strings.TrimSpace(r.FormValue("name_en")),
		NameKH:   strings.TrimSpace(r.FormValue("name_kh")),
		Phone:    strings.TrimSpace(r.FormValue("phone")),
		Email:    strings.TrimSpace(r.FormValue("email")),
	}
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"id_number", req.IDNumber},
		{"name_en", req.NameEN},
		{"name_kh", req.NameKH},
		{"email", req.Email},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		writeError(w, r, http.StatusBadRequest, "validation", "missing fields: "+strings.Join(missing, ", "))
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", "email is not valid")
		return
	}

	file, hdr, err := r.FormFile("id_card_image")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", "id_card_image is required")
		return
	}
	defer file.Close()
	upload, err := a.deps.Uploads.Save(file, hdr.Filename)
	if err != nil {
		handleError(w, r, err)
		return
	}

	res, err := a.deps.Registration.Register(r.Context(), registration.Request{Request: req, Upload: upload})
	if err != nil {
		handleError(w, r, err)
		return
	}

	resp := registerResponse{
		Message:    "Voting token issued",
		Reused:     !res.Grant.IssuedNewly,
		Confidence: res.Outcome.Confidence,
		ExpiresAt:  res.Grant.ExpiresAt.UTC(),
		QRVerified: res.Outcome.QRVerified,
	}
	if res.Grant.IssuedNewly {
		resp.TxHash = &res.Grant.TxHash
	} else {
		resp.Message = "Existing voting token reused"
	}
	writeJSON(w, http.StatusOK, resp)
}

type loginRequest struct {
	Identifier     string `json:"identifier"`
	FaceBase64     string `json:"face_base64"`
	LivenessPassed bool   `json:"liveness_passed"`
}

type voterView struct {
	UUID     string `json:"uuid"`
	IDNumber string `json:"id_number"`
	Name     string `json:"name"`
}

type loginResponse struct {
	Message    string    `json:"message"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	Voter      voterView `json:"voter"`
	Confidence float64   `json:"confidence"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, a.deps.MaxUploadBytes*2); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		writeError(w, r, http.StatusBadRequest, "validation", "identifier is required")
		return
	}
	// A failed liveness check wins over a malformed face.
	face, err := voter.DecodeImage(req.FaceBase64)
	if err != nil && req.LivenessPassed {
		writeError(w, r, http.StatusBadRequest, "validation", "face_base64 must be a base64 image")
		return
	}

	sess, err := a.deps.Sessions.Login(r.Context(), session.Request{
		Identifier:     req.Identifier,
		Face:           face,
		LivenessPassed: req.LivenessPassed,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Message:   "Login successful",
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.UTC(),
		Voter: voterView{
			UUID:     sess.Voter.UUID.String(),
			IDNumber: sess.Voter.IDNumber,
			Name:     sess.Voter.DisplayName(),
		},
		Confidence: sess.Confidence,
	})
}

type voteRequest struct {
	Token       string  `json:"token"`
	CandidateID *uint64 `json:"candidate_id"`
}

func (a *API) handleVote(w http.ResponseWriter, r *http.Request) {
	v, ok := auth.VoterFromContext(r.Context())
	if !ok {
		handleError(w, r, auth.ErrUnauthorized)
		return
	}
	var req voteRequest
	if err := decodeJSON(w, r, &req, maxJSONBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" || req.CandidateID == nil {
		writeError(w, r, http.StatusBadRequest, "validation", "token and candidate_id are required")
		return
	}

	ctx, cancel := ledger.WithTimeout(r.Context(), a.deps.LedgerTimeout)
	defer cancel()
	rc, err := a.deps.Tokens.Spend(ctx, v.Key, req.Token, *req.CandidateID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	if a.deps.Stream != nil {
		a.deps.Stream.Publish(stream.VoteEvent{
			CandidateID: *req.CandidateID,
			TxHash:      rc.TxHash,
			Timestamp:   time.Now().UTC(),
		})
	}
	_ = audit.LogEvent(r.Context(), "vote.cast", map[string]any{
		"candidate_id": *req.CandidateID,
		"tx_hash":      rc.TxHash,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Vote cast successfully",
		"tx_hash": rc.TxHash,
	})
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (a *API) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	v, ok := auth.VoterFromContext(r.Context())
	if !ok {
		handleError(w, r, auth.ErrUnauthorized)
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req, maxJSONBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "validation", "token is required")
		return
	}

	ctx, cancel := ledger.WithTimeout(r.Context(), a.deps.CallTimeout)
	defer cancel()
	valid, err := a.deps.Tokens.Validate(ctx, v.Key, strings.TrimSpace(req.Token))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if !valid {
		writeError(w, r, http.StatusForbidden, "invalid_or_used_token", "Invalid or used token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Token is valid"})
}

func (a *API) handleCandidates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := ledger.WithTimeout(r.Context(), a.deps.LedgerTimeout)
	defer cancel()
	candidates, err := a.deps.Tally.Candidates(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (a *API) handleLookupQR(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PathValue("token"))
	if token == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "Invalid QR Token")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.deps.CallTimeout)
	defer cancel()
	rec, err := a.deps.Directory.FindByQRToken(ctx, token)
	if errors.Is(err, voter.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "Invalid QR Token")
		return
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "QR Found",
		"id_number": rec.IDNumber,
		"name":      rec.NameEN,
	})
}
