// Package biometric compares a reference face against a submitted one.
package biometric

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotConfigured means no comparison backend is set up; callers must fail closed.
	ErrNotConfigured = errors.New("biometric: comparison service not configured")
	ErrUnavailable   = errors.New("biometric: comparison service unavailable")
	ErrInvalidImage  = errors.New("biometric: image rejected by comparison service")
)

// Comparer scores how likely two images show the same face, on a 0-100 scale.
type Comparer interface {
	Compare(ctx context.Context, reference, probe []byte) (float64, error)
}

// Unconfigured rejects every comparison.
type Unconfigured struct{}

func (Unconfigured) Compare(context.Context, []byte, []byte) (float64, error) {
	return 0, ErrNotConfigured
}

const DefaultFacePPURL = "https://api-us.faceplusplus.com/facepp/v3/compare"

// FacePP calls the Face++ compare API.
type FacePP struct {
	endpoint string
	key      string
	secret   string
	http     *http.Client
}

// NewFacePP returns Unconfigured when key or secret is empty.
func NewFacePP(endpoint, key, secret string, timeout time.Duration) Comparer {
	if strings.TrimSpace(key) == "" || strings.TrimSpace(secret) == "" {
		return Unconfigured{}
	}
	if endpoint == "" {
		endpoint = DefaultFacePPURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FacePP{
		endpoint: endpoint,
		key:      key,
		secret:   secret,
		http:     &http.Client{Timeout: timeout},
	}
}

type compareResponse struct {
	Confidence   *float64 `json:"confidence"`
	ErrorMessage string   `json:"error_message"`
}

// Compare returns a zero score when either image has no detectable face.
func (f *FacePP) Compare(ctx context.Context, reference, probe []byte) (float64, error) {
	form := url.Values{}
	form.Set("api_key", f.key)
	form.Set("api_secret", f.secret)
	form.Set("image_base64_1", base64.StdEncoding.EncodeToString(reference))
	form.Set("image_base64_2", base64.StdEncoding.EncodeToString(probe))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var out compareResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusBadRequest && isImageError(out.ErrorMessage) {
			return 0, fmt.Errorf("%w: %s", ErrInvalidImage, out.ErrorMessage)
		}
		return 0, fmt.Errorf("%w: status %d %s", ErrUnavailable, resp.StatusCode, out.ErrorMessage)
	}
	if out.Confidence == nil {
		return 0, nil
	}
	return *out.Confidence, nil
}

func isImageError(msg string) bool {
	return strings.HasPrefix(msg, "IMAGE_") || strings.HasPrefix(msg, "INVALID_IMAGE")
}
