package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSharedSecretVerify(t *testing.T) {
	s := SharedSecret{Expected: "s3cret"}

	if err := s.Verify("s3cret"); err != nil {
		t.Fatalf("Verify(match)=%v, want nil", err)
	}
	if err := s.Verify("s3cret "); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Verify(mismatch)=%v, want %v", err, ErrInvalidCredentials)
	}
	if err := s.Verify(""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Verify(empty)=%v, want %v", err, ErrMissingCredentials)
	}
	if err := (SharedSecret{}).Verify("anything"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Verify(unconfigured)=%v, want %v", err, ErrNotConfigured)
	}
}

func TestHeaderGate(t *testing.T) {
	gate := HeaderGate{Secret: SharedSecret{Expected: "k"}, Header: "X-SOS-Secret"}

	newReq := func(values ...string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/sos", nil)
		for _, v := range values {
			r.Header.Add("X-SOS-Secret", v)
		}
		return r
	}

	if err := gate.Check(newReq("k")); err != nil {
		t.Fatalf("Check(match)=%v, want nil", err)
	}
	if err := gate.Check(newReq("nope")); !IsUnauthorized(err) {
		t.Fatalf("Check(mismatch)=%v, want unauthorized", err)
	}
	if err := gate.Check(newReq()); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Check(missing)=%v, want %v", err, ErrMissingCredentials)
	}
	if err := gate.Check(newReq("k", "k")); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Check(duplicate)=%v, want %v", err, ErrMissingCredentials)
	}

	unconfigured := HeaderGate{Header: "X-SOS-Secret"}
	err := unconfigured.Check(newReq("k"))
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Check(unconfigured)=%v, want %v", err, ErrNotConfigured)
	}
	if IsUnauthorized(err) {
		t.Fatalf("misconfiguration must not be reported as unauthorized")
	}
}

func TestJoinGate(t *testing.T) {
	open := JoinGate{}
	if open.Required() {
		t.Fatalf("expected no token requirement without a secret")
	}
	if !open.Allow("") || !open.Allow("whatever") {
		t.Fatalf("expected every join to pass without a secret")
	}

	closed := JoinGate{Secret: SharedSecret{Expected: "room-key"}}
	if !closed.Required() {
		t.Fatalf("expected token requirement")
	}
	if !closed.Allow("room-key") {
		t.Fatalf("expected matching token to pass")
	}
	if closed.Allow("") || closed.Allow("room-key2") {
		t.Fatalf("expected missing/mismatched token to fail")
	}
}
