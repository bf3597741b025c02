package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"votechain.org/internal/auth"
	"votechain.org/internal/ledger"
	"votechain.org/internal/obs"
	"votechain.org/internal/registration"
	"votechain.org/internal/session"
	"votechain.org/internal/stream"
	"votechain.org/internal/tally"
	"votechain.org/internal/token"
	"votechain.org/internal/uploads"
	"votechain.org/internal/voter"
)

const serviceName = "votechain-api"

// Pinger is anything /readyz can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings the database and the ledger. Nil members are skipped.
type ReadyProbe struct {
	DB     *sql.DB
	Ledger Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Ledger != nil {
		if err := rp.Ledger.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ReadinessChecker backs /readyz and the gRPC health service.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Deps is everything the HTTP surface calls into.
type Deps struct {
	Registration *registration.Service
	Sessions     *session.Issuer
	Tokens       *token.Manager
	Tally        *tally.Reconstructor
	Ledger       ledger.Service
	Directory    voter.Directory
	Signer       *auth.Signer
	AdminKey     auth.AdminKey
	Uploads      *uploads.Store
	Stream       *stream.Stream
	Ready        ReadinessChecker

	Version        string
	CallTimeout    time.Duration
	LedgerTimeout  time.Duration
	MaxUploadBytes int64
	RateBurst      int
	RatePerSec     float64
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps
}

func New(deps Deps) *API {
	if deps.Ready == nil {
		deps.Ready = ReadyProbe{}
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = 10 * time.Second
	}
	if deps.LedgerTimeout <= 0 {
		deps.LedgerTimeout = 60 * time.Second
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 8 << 20
	}
	if deps.RateBurst <= 0 {
		deps.RateBurst = 20
	}
	if deps.RatePerSec <= 0 {
		deps.RatePerSec = 5
	}
	a := &API{mux: http.NewServeMux(), deps: deps}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /register-request-token", a.handleRegister)
	a.mux.HandleFunc("POST /login", a.handleLogin)
	a.mux.HandleFunc("GET /lookup-qr/{token}", a.handleLookupQR)

	a.mux.HandleFunc("POST /vote", a.withVoter(a.handleVote))
	a.mux.HandleFunc("POST /verify-voting-token", a.withVoter(a.handleVerifyToken))
	a.mux.HandleFunc("GET /candidates", a.withVoter(a.handleCandidates))

	a.mux.HandleFunc("GET /admin/results", a.withAdmin(a.handleResults))
	a.mux.HandleFunc("GET /admin/results/stream", a.withAdmin(a.Stream))
	a.mux.HandleFunc("POST /admin/candidates", a.withAdmin(a.handleAddCandidate))

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.deps.MaxUploadBytes+1<<20)
	h = RateLimit(h, a.deps.RateBurst, a.deps.RatePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.deps.CallTimeout)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Message    string   `json:"message"`
	Error      string   `json:"error"`
	RequestID  string   `json:"request_id,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, errCode, msg string) {
	writeJSON(w, code, errorBody{
		Message:   msg,
		Error:     errCode,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

const maxJSONBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	reader := http.MaxBytesReader(w, r.Body, limit)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
