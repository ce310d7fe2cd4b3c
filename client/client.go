// Package client is the client-side core: credential storage, session
// verification, and the story continuation workflow against the HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"storyweave/pkg/domain"
)

// ErrorKind classifies API failures for callers that branch on outcome
// rather than status code.
type ErrorKind string

const (
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindInvalidArgument    ErrorKind = "invalid_argument"
	KindNotFound           ErrorKind = "not_found"
	KindUpstreamFailure    ErrorKind = "upstream_failure"
	KindPersistenceFailure ErrorKind = "persistence_failure"
)

// ErrConnectivity marks transport failures and non-JSON responses. The
// server always speaks JSON, so anything else means we never reached it
// (proxy error page, network failure) and the body is not parsed further.
var ErrConnectivity = errors.New("server unreachable")

// APIError is an explicit, parsed server rejection. Connectivity problems
// are never represented as an APIError; they wrap ErrConnectivity instead,
// so callers can tell rejection from outage.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsUnauthenticated reports whether err is an explicit authentication
// rejection from the server.
func IsUnauthenticated(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindUnauthenticated
}

// IsConnectivity reports whether err was a transport-level failure rather
// than a server decision.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

// IsVerificationFailure reports whether err is a 401 the server issued
// because it could not reach the auth provider. The credential itself was
// never judged, so callers must treat this as transient, not as a
// rejection.
func IsVerificationFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "verification_failed"
}

// Client is a typed HTTP client for the API service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a Client for the given API base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 150 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates an account and returns the principal plus its session
// token.
func (c *Client) Register(ctx context.Context, email, password string) (domain.User, string, error) {
	var resp sessionResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return domain.User{}, "", err
	}
	return resp.User, resp.Session.AccessToken, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	var resp sessionResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return domain.User{}, "", err
	}
	token := resp.AccessToken
	if token == "" {
		token = resp.Session.AccessToken
	}
	return resp.User, token, nil
}

// Logout asks the server to revoke the token. Best-effort; callers clear
// local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

// Me verifies the token with the server and returns the principal it
// resolves to.
func (c *Client) Me(ctx context.Context, token string) (domain.User, error) {
	var resp struct {
		User domain.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", token, nil, &resp); err != nil {
		return domain.User{}, err
	}
	return resp.User, nil
}

// CreateBook persists a new book. The title is validated here before the
// network call; the server re-validates authoritatively.
func (c *Client) CreateBook(ctx context.Context, token, title string) (domain.Book, error) {
	if strings.TrimSpace(title) == "" {
		return domain.Book{}, &APIError{Kind: KindInvalidArgument, Message: "title is required"}
	}
	var resp struct {
		Book domain.Book `json:"book"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/books", token, map[string]string{"title": title}, &resp)
	if err != nil {
		return domain.Book{}, err
	}
	return resp.Book, nil
}

// ListBooks returns the caller's books, newest first.
func (c *Client) ListBooks(ctx context.Context, token string) ([]domain.Book, error) {
	var resp struct {
		Books []domain.Book `json:"books"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/books", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Books, nil
}

// GetBook returns a book and its chapters in reconstruction order.
func (c *Client) GetBook(ctx context.Context, token, bookID string) (domain.Book, []domain.Chapter, error) {
	var resp struct {
		Book     domain.Book      `json:"book"`
		Chapters []domain.Chapter `json:"chapters"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/books/"+bookID, token, nil, &resp); err != nil {
		return domain.Book{}, nil, err
	}
	return resp.Book, resp.Chapters, nil
}

// AddChapter persists a chapter with a caller-assigned idx.
func (c *Client) AddChapter(ctx context.Context, token, bookID, content string, idx int) (domain.Chapter, error) {
	var resp struct {
		Chapter domain.Chapter `json:"chapter"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/books/"+bookID+"/chapters", token, map[string]any{
		"content": content,
		"idx":     idx,
	}, &resp)
	if err != nil {
		return domain.Chapter{}, err
	}
	return resp.Chapter, nil
}

// NextStory requests a generated continuation. With a non-empty bookID the
// server also persists the chapter at idx; a persistence failure after a
// successful generation comes back as a non-empty persistError alongside
// the story.
func (c *Client) NextStory(ctx context.Context, token, prompt, bookID string, idx int) (story, persistError string, err error) {
	payload := map[string]any{"prompt": prompt}
	if bookID != "" {
		payload["bookId"] = bookID
		payload["idx"] = idx
	}
	var resp struct {
		Story        string `json:"story"`
		PersistError string `json:"persistError"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/story/next", token, payload, &resp); err != nil {
		return "", "", err
	}
	return resp.Story, resp.PersistError, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if !isJSONResponse(resp) {
		// Not our server's envelope. Do not parse; treat as connectivity.
		return fmt.Errorf("%w: unexpected %s response", ErrConnectivity, resp.Header.Get("Content-Type"))
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		msg := envelope.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{
			Kind:    kindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: msg,
			Code:    envelope.Code,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed response body", ErrConnectivity)
	}
	return nil
}

func isJSONResponse(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthenticated
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindInvalidArgument
	default:
		return KindUpstreamFailure
	}
}

type sessionResponse struct {
	User        domain.User `json:"user"`
	Session     sessionData `json:"session"`
	AccessToken string      `json:"access_token"`
}

type sessionData struct {
	AccessToken string `json:"access_token"`
}
