// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LedgerEth    = "eth"
	LedgerMemory = "memory"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string
	PGDSN    string

	Ledger          string
	RPCURL          string
	ContractAddress string
	AdminPrivateKey string
	TokenTTL        time.Duration

	FaceThresholdLogin    float64
	FaceThresholdRegister float64
	RequireQR             bool
	FacePPKey             string
	FacePPSecret          string
	FacePPURL             string

	SessionSecret string
	SessionTTL    time.Duration
	AdminKey      string

	UploadDir      string
	ProofDir       string
	MaxUploadBytes int64

	CallTimeout   time.Duration
	LedgerTimeout time.Duration

	RateBurst  int
	RatePerSec float64
}

// LoadDotEnv loads path into the process environment when it exists. Variables already
// set are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// FromEnv reads the configuration with os.Getenv.
func FromEnv() (Config, error) { return Load(os.Getenv) }

// Load reads every VOTING_* variable through getenv and validates the result.
func Load(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	cfg := Config{
		HTTPAddr: p.str("VOTING_HTTP_ADDR", ":8080"),
		GRPCAddr: p.str("VOTING_GRPC_ADDR", ""),
		PGDSN:    p.str("VOTING_PG_DSN", ""),

		Ledger:          strings.ToLower(p.str("VOTING_LEDGER", LedgerEth)),
		RPCURL:          p.str("VOTING_RPC_URL", "http://127.0.0.1:8545"),
		ContractAddress: p.str("VOTING_CONTRACT_ADDRESS", ""),
		AdminPrivateKey: p.str("VOTING_ADMIN_PRIVATE_KEY", ""),
		TokenTTL:        p.duration("VOTING_TOKEN_TTL", 30*time.Minute),

		FaceThresholdLogin:    p.float("VOTING_FACE_THRESHOLD_LOGIN", 70),
		FaceThresholdRegister: p.float("VOTING_FACE_THRESHOLD_REGISTER", 70),
		RequireQR:             p.boolean("VOTING_REQUIRE_QR", true),
		FacePPKey:             p.str("VOTING_FACEPP_KEY", ""),
		FacePPSecret:          p.str("VOTING_FACEPP_SECRET", ""),
		FacePPURL:             p.str("VOTING_FACEPP_URL", ""),

		SessionSecret: p.str("VOTING_SESSION_SECRET", ""),
		SessionTTL:    p.duration("VOTING_SESSION_TTL", 24*time.Hour),
		AdminKey:      p.str("VOTING_ADMIN_KEY", ""),

		UploadDir:      p.str("VOTING_UPLOAD_DIR", "uploads/tmp"),
		ProofDir:       p.str("VOTING_PROOF_DIR", "uploads/proofs"),
		MaxUploadBytes: int64(p.integer("VOTING_MAX_UPLOAD_BYTES", 8<<20)),

		CallTimeout:   p.duration("VOTING_CALL_TIMEOUT", 10*time.Second),
		LedgerTimeout: p.duration("VOTING_LEDGER_TIMEOUT", 60*time.Second),

		RateBurst:  p.integer("VOTING_RATE_BURST", 20),
		RatePerSec: p.float("VOTING_RATE_PER_SEC", 5),
	}
	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	return cfg, cfg.Validate()
}

// Validate reports every missing mandatory value at once.
func (c Config) Validate() error {
	var errs []error
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("VOTING_SESSION_SECRET is required"))
	}
	switch c.Ledger {
	case LedgerEth:
		if c.RPCURL == "" {
			errs = append(errs, errors.New("VOTING_RPC_URL is required"))
		}
		if c.ContractAddress == "" {
			errs = append(errs, errors.New("VOTING_CONTRACT_ADDRESS is required"))
		}
		if c.AdminPrivateKey == "" {
			errs = append(errs, errors.New("VOTING_ADMIN_PRIVATE_KEY is required"))
		}
	case LedgerMemory:
	default:
		errs = append(errs, fmt.Errorf("VOTING_LEDGER: unknown ledger %q", c.Ledger))
	}
	if c.FaceThresholdLogin < 0 || c.FaceThresholdLogin > 100 || c.FaceThresholdRegister < 0 || c.FaceThresholdRegister > 100 {
		errs = append(errs, errors.New("face thresholds must be within 0..100"))
	}
	if c.TokenTTL < time.Second {
		errs = append(errs, errors.New("VOTING_TOKEN_TTL must be at least one second"))
	}
	return errors.Join(errs...)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(name, def string) string {
	if v := strings.TrimSpace(p.getenv(name)); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(p.getenv(name))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return d
}

func (p *parser) float(name string, def float64) float64 {
	raw := strings.TrimSpace(p.getenv(name))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return f
}

func (p *parser) integer(name string, def int) int {
	raw := strings.TrimSpace(p.getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return n
}

func (p *parser) boolean(name string, def bool) bool {
	raw := strings.TrimSpace(p.getenv(name))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return b
}
