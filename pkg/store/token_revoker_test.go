package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	revoker := NewRedisTokenRevoker(mr.Addr(), "")

	revoked, err := revoker.IsRevoked("jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatal("unknown jti reported revoked")
	}

	if err := revoker.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err = revoker.IsRevoked("jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatal("revoked jti not reported")
	}

	// The entry disappears once its TTL elapses.
	mr.FastForward(2 * time.Minute)
	revoked, err = revoker.IsRevoked("jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatal("jti still revoked after TTL")
	}
}

func TestRedisTokenRevokerSurfacesOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	revoker := NewRedisTokenRevoker(mr.Addr(), "")
	mr.Close()
	if _, err := revoker.IsRevoked("jti-1"); err == nil {
		t.Fatal("expected an error when redis is down")
	}
}

func TestMemoryTokenRevokerExpiry(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	if err := revoker.Revoke("jti-1", 10*time.Millisecond); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, _ := revoker.IsRevoked("jti-1"); !revoked {
		t.Fatal("fresh revocation not reported")
	}
	time.Sleep(20 * time.Millisecond)
	if revoked, _ := revoker.IsRevoked("jti-1"); revoked {
		t.Fatal("revocation outlived its TTL")
	}
}
