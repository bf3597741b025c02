package httpapi

import (
	"net/http"
	"strings"

	"votechain.org/internal/audit"
	"votechain.org/internal/ledger"
)

func (a *API) handleResults(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := ledger.WithTimeout(r.Context(), a.deps.LedgerTimeout)
	defer cancel()
	results, err := a.deps.Tally.Results(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *API) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	var in ledger.CandidateInput
	if err := decodeJSON(w, r, &in, maxJSONBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}
	in.NameEN = strings.TrimSpace(in.NameEN)
	in.NameKH = strings.TrimSpace(in.NameKH)
	in.Party = strings.TrimSpace(in.Party)
	in.PhotoURL = strings.TrimSpace(in.PhotoURL)
	if in.NameEN == "" && in.NameKH == "" {
		writeError(w, r, http.StatusBadRequest, "validation", "name_en or name_kh is required")
		return
	}

	ctx, cancel := ledger.WithTimeout(r.Context(), a.deps.LedgerTimeout)
	defer cancel()
	rc, err := a.deps.Ledger.AddCandidate(ctx, in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "candidate.added", map[string]any{
		"name_en": in.NameEN,
		"party":   in.Party,
		"tx_hash": rc.TxHash,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Candidate added",
		"tx_hash": rc.TxHash,
	})
}
