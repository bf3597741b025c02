package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/lookup-qr/abc":          "/lookup-qr/:token",
		"/lookup-qr/abc?x=1":      "/lookup-qr/:token",
		"/lookup-qr/abc/extra":    "/lookup-qr/abc/extra",
		"/admin/results":          "/admin/results",
		"/register-request-token": "/register-request-token",
		"/vote?candidate_id=1":    "/vote",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestRecordTokenIncrementsPath(t *testing.T) {
	Init()
	before := testutil.ToFloat64(tokensTotal.WithLabelValues("reused"))
	RecordToken("reused")
	RecordToken("reused")
	if got := testutil.ToFloat64(tokensTotal.WithLabelValues("reused")); got != before+2 {
		t.Fatalf("reused counter = %v, want %v", got, before+2)
	}
}

func TestSetReady(t *testing.T) {
	Init()
	SetReady(true)
	if got := testutil.ToFloat64(ready); got != 1 {
		t.Fatalf("ready = %v, want 1", got)
	}
	SetReady(false)
	if got := testutil.ToFloat64(ready); got != 0 {
		t.Fatalf("ready = %v, want 0", got)
	}
}
