package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNonJSONResponseIsConnectivityFailure(t *testing.T) {
	// A proxy error page, not our server's envelope.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL).Me(context.Background(), "tok")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !IsConnectivity(err) {
		t.Fatalf("expected connectivity failure, got %v", err)
	}
	if IsUnauthenticated(err) {
		t.Fatal("an unparsed 502 page must never count as a rejection")
	}
}

func TestErrorEnvelopeMapsToKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		want   ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, "invalid_token", KindUnauthenticated},
		{"not found", http.StatusNotFound, "", KindNotFound},
		{"bad request", http.StatusBadRequest, "", KindInvalidArgument},
		{"server error", http.StatusInternalServerError, "upstream_failure", KindUpstreamFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope","code":"` + tc.code + `"}`))
			}))
			t.Cleanup(srv.Close)

			_, err := New(srv.URL).ListBooks(context.Background(), "tok")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Kind != tc.want {
				t.Fatalf("kind = %s, want %s", apiErr.Kind, tc.want)
			}
			if apiErr.Code != tc.code {
				t.Fatalf("code = %q, want %q", apiErr.Code, tc.code)
			}
			if apiErr.Message != "nope" {
				t.Fatalf("message = %q", apiErr.Message)
			}
		})
	}
}

func TestCreateBookValidatesTitleLocally(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL).CreateBook(context.Background(), "tok", "   ")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindInvalidArgument {
		t.Fatalf("expected local InvalidArgument, got %v", err)
	}
	if calls != 0 {
		t.Fatal("blank title reached the network")
	}
}
