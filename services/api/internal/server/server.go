package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storyweave/internal/ratelimit"
	"storyweave/internal/util"
	"storyweave/pkg/domain"
	"storyweave/services/api/internal/app"
	"storyweave/services/api/internal/authclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                     *app.App
	Auth                    *authclient.Client
	RedisAddr               string
	RedisPassword           string
	RegisterRateLimitPerMin int
	LoginRateLimitPerMin    int
}

// Server exposes the HTTP JSON API.
type Server struct {
	app             *app.App
	auth            *authclient.Client
	mux             *http.ServeMux
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	registerLimit := cfg.RegisterRateLimitPerMin
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMin
	if loginLimit <= 0 {
		loginLimit = 10
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "storyweave:api:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:             cfg.App,
		auth:            cfg.Auth,
		mux:             http.NewServeMux(),
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithSecurityHeaders(util.WithCORS(withRecovery(s.mux)))))
}

func (s *Server) routes() {
	// Everything unmatched falls through to the JSON 404.
	s.mux.HandleFunc("/", s.handleNotFound)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth (no bearer token required; the provider is authoritative)
	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/auth/me", s.handleMe)

	// books & story (auth required)
	s.mux.Handle("/books", s.authenticated(s.handleBooks))
	s.mux.Handle("/books/", s.authenticated(s.handleBookByID))
	s.mux.Handle("/story/next", s.authenticated(s.handleStoryNext))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "route not found")
}

// withRecovery converts panics into the generic JSON 500 so clients never
// see a non-JSON error body.
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered", "path", r.URL.Path, "panic", fmt.Sprint(rec))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// authenticated enforces the bearer-token contract: extract, introspect,
// attach the principal. No local caching of validity; every request
// re-verifies with the provider so revocation takes effect immediately.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeErrorCode(w, http.StatusUnauthorized, "no token provided", "missing_token")
			return
		}
		user, err := s.auth.Me(r.Context(), token)
		if err != nil {
			var apiErr *authclient.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
				s.audit(r, "api.authorize", "fail", "reason", "invalid_token")
				writeErrorCode(w, http.StatusUnauthorized, "invalid or expired token", "invalid_token")
				return
			}
			// Provider outage or transport failure. Not retried here; the
			// caller retries at the transport layer.
			s.audit(r, "api.authorize", "fail", "reason", "verification_failed")
			writeErrorCode(w, http.StatusUnauthorized, "token verification failed", "verification_failed")
			return
		}
		next(w, r.WithContext(contextWithPrincipal(r.Context(), user)), user)
	})
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}
	user, token, err := s.auth.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	s.audit(r, "api.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{
		User:    user,
		Session: sessionPayload{AccessToken: token},
		Message: "registration successful",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	user, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	s.audit(r, "api.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{
		User:        user,
		Session:     sessionPayload{AccessToken: token},
		AccessToken: token,
		Message:     "login successful",
	})
}

// handleLogout forwards the revoke to the provider but reports success
// regardless: the client clears its local state first and must never be
// blocked by a failed revoke.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if token, ok := bearerToken(r); ok {
		if err := s.auth.Logout(r.Context(), token); err != nil {
			s.audit(r, "api.logout", "fail", "reason", err.Error())
		} else {
			s.audit(r, "api.logout", "success")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logout successful"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, "no token provided", "missing_token")
		return
	}
	user, err := s.auth.Me(r.Context(), token)
	if err != nil {
		var apiErr *authclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			writeErrorCode(w, http.StatusUnauthorized, "invalid or expired token", "invalid_token")
			return
		}
		writeErrorCode(w, http.StatusUnauthorized, "token verification failed", "verification_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.User{"user": user})
}

// /books
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		var req createBookRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		book, err := s.app.CreateBook(r.Context(), user, req.Title)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]domain.Book{"book": book})
	case http.MethodGet:
		books, err := s.app.ListBooks(r.Context(), user)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]domain.Book{"books": books})
	default:
		methodNotAllowed(w)
	}
}

// /books/{id} or /books/{id}/chapters
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	if len(parts) == 2 && parts[1] == "chapters" {
		s.handleAddChapter(w, r, user, id)
		return
	}
	if len(parts) == 2 {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	book, chapters, err := s.app.GetBookWithChapters(r.Context(), user, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookResponse{Book: book, Chapters: chapters})
}

func (s *Server) handleAddChapter(w http.ResponseWriter, r *http.Request, user domain.User, bookID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req addChapterRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chapter, err := s.app.AddChapter(r.Context(), user, bookID, req.Content, req.Idx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.Chapter{"chapter": chapter})
}

// /story/next
func (s *Server) handleStoryNext(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req storyNextRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.ContinueStory(r.Context(), user, req.Prompt, req.BookID, req.Idx)
	if err != nil {
		if errors.Is(err, app.ErrPromptRequired) || errors.Is(err, app.ErrNegativeIdx) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("story generation failed", "err", err, "request_id", util.RequestIDFromRequest(r))
		writeErrorCode(w, http.StatusInternalServerError, "story generation failed", "upstream_failure")
		return
	}
	resp := storyNextResponse{Story: result.Story}
	if result.PersistErr != nil {
		// The generation is returned even though the write failed; the user
		// may retry persistence with the same content.
		slog.Warn("chapter persist failed after generation", "err", result.PersistErr, "book_id", req.BookID)
		resp.PersistError = "chapter could not be saved"
	}
	writeJSON(w, http.StatusOK, resp)
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionPayload struct {
	AccessToken string `json:"access_token"`
}

type sessionResponse struct {
	User        domain.User    `json:"user"`
	Session     sessionPayload `json:"session"`
	AccessToken string         `json:"access_token,omitempty"`
	Message     string         `json:"message,omitempty"`
}

type createBookRequest struct {
	Title string `json:"title"`
}

type addChapterRequest struct {
	Content string `json:"content"`
	Idx     int    `json:"idx"`
}

type storyNextRequest struct {
	Prompt string `json:"prompt"`
	BookID string `json:"bookId,omitempty"`
	Idx    int    `json:"idx,omitempty"`
}

type storyNextResponse struct {
	Story        string `json:"story"`
	PersistError string `json:"persistError,omitempty"`
}

type bookResponse struct {
	Book     domain.Book      `json:"book"`
	Chapters []domain.Chapter `json:"chapters"`
}

type principalContextKey struct{}

func contextWithPrincipal(ctx context.Context, user domain.User) context.Context {
	return context.WithValue(ctx, principalContextKey{}, user)
}

// PrincipalFromContext returns the authenticated user attached by the
// middleware, if any.
func PrincipalFromContext(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(principalContextKey{}).(domain.User)
	return user, ok
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// writeAuthError relays a provider rejection with its original status, and
// maps provider failures (5xx or unreachable) to 502.
func writeAuthError(w http.ResponseWriter, err error) {
	var apiErr *authclient.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status >= 500 {
			status = http.StatusBadGateway
		}
		writeError(w, status, apiErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, "auth provider unavailable")
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrTitleRequired), errors.Is(err, app.ErrContentRequired), errors.Is(err, app.ErrNegativeIdx):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}
