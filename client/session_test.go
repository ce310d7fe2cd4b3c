package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storyweave/pkg/domain"
)

func authedAPIServer(t *testing.T, validToken string, user domain.User) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token != validToken {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid or expired token", "code": "invalid_token"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]domain.User{"user": user})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "logout successful"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRestoreWithoutStoredCredential(t *testing.T) {
	srv := authedAPIServer(t, "tok", domain.User{ID: "u1"})
	manager := NewSessionManager(New(srv.URL), NewMemoryCredentialStore())

	_, ok, err := manager.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if ok {
		t.Fatal("restored a session from an empty store")
	}
	if manager.State() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", manager.State())
	}
}

func TestRestoreVerifiesAndTrustsStoredCredential(t *testing.T) {
	user := domain.User{ID: "u1", Email: "r@example.com"}
	srv := authedAPIServer(t, "tok", user)
	store := NewMemoryCredentialStore()
	if err := store.Save(Credentials{Token: "tok", User: user}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	manager := NewSessionManager(New(srv.URL), store)
	session, ok, err := manager.Restore(context.Background())
	if err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	if session.Principal.Email != "r@example.com" || !session.IssuedTrust {
		t.Fatalf("unexpected session: %+v", session)
	}
	if manager.State() != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", manager.State())
	}
}

func TestRestoreClearsCredentialOnExplicitRejection(t *testing.T) {
	srv := authedAPIServer(t, "valid", domain.User{ID: "u1"})
	store := NewMemoryCredentialStore()
	_ = store.Save(Credentials{Token: "stale", User: domain.User{ID: "u1"}})

	manager := NewSessionManager(New(srv.URL), store)
	_, ok, err := manager.Restore(context.Background())
	if ok {
		t.Fatal("rejected credential restored")
	}
	if !IsUnauthenticated(err) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
	if _, stillThere, _ := store.Load(); stillThere {
		t.Fatal("explicitly rejected credential not cleared")
	}
}

func TestRestorePreservesCredentialOnTransportFailure(t *testing.T) {
	srv := authedAPIServer(t, "tok", domain.User{ID: "u1"})
	store := NewMemoryCredentialStore()
	_ = store.Save(Credentials{Token: "tok", User: domain.User{ID: "u1"}})

	// Server is gone: a network error, not a rejection.
	srv.Close()
	manager := NewSessionManager(New(srv.URL), store)
	_, ok, err := manager.Restore(context.Background())
	if ok {
		t.Fatal("unverified credential trusted during outage")
	}
	if !IsConnectivity(err) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if _, stillThere, _ := store.Load(); !stillThere {
		t.Fatal("credential destroyed by a transient outage")
	}
	if manager.State() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", manager.State())
	}
}

func TestRestorePreservesCredentialWhenProviderUnreachable(t *testing.T) {
	// The server answers, but with a 401 that says it could not reach the
	// auth provider. The credential was never judged, so it must survive.
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "token verification failed",
			"code":  "verification_failed",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewMemoryCredentialStore()
	_ = store.Save(Credentials{Token: "tok", User: domain.User{ID: "u1"}})

	manager := NewSessionManager(New(srv.URL), store)
	_, ok, err := manager.Restore(context.Background())
	if ok {
		t.Fatal("unverified credential trusted during provider outage")
	}
	if err == nil || !IsVerificationFailure(err) {
		t.Fatalf("expected verification failure error, got %v", err)
	}
	if _, stillThere, _ := store.Load(); !stillThere {
		t.Fatal("credential destroyed by a transient verification failure")
	}
	if manager.State() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", manager.State())
	}
}

func TestLogoutClearsLocalStateEvenWhenRevokeFails(t *testing.T) {
	user := domain.User{ID: "u1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]domain.User{"user": user})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		// The provider revoke fails.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "auth provider unavailable"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewMemoryCredentialStore()
	_ = store.Save(Credentials{Token: "tok", User: user})
	manager := NewSessionManager(New(srv.URL), store)
	if _, ok, err := manager.Restore(context.Background()); !ok || err != nil {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}

	err := manager.Logout(context.Background())
	if err == nil {
		t.Fatal("expected the revoke failure to be reported")
	}
	if _, stillThere, _ := store.Load(); stillThere {
		t.Fatal("local credential survived logout")
	}
	if manager.State() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated after logout, got %s", manager.State())
	}
	if _, ok := manager.Current(); ok {
		t.Fatal("session still active after logout")
	}
}

func TestFileCredentialStoreRoundTrip(t *testing.T) {
	path := t.TempDir() + "/creds.json"
	store := NewFileCredentialStoreAt(path)

	if _, ok, err := store.Load(); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	creds := Credentials{Token: "tok", User: domain.User{ID: "u1", Email: "r@example.com"}}
	if err := store.Save(creds); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if loaded.Token != "tok" || loaded.User.Email != "r@example.com" {
		t.Fatalf("unexpected credentials: %+v", loaded)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Load(); ok {
		t.Fatal("credentials survived clear")
	}
	// Clearing twice is fine.
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}
