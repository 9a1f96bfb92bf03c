package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"couplesync/internal/common"
	"couplesync/internal/models"
)

// HTTPStore talks to the reference backend: REST document CRUD with
// If-Match version preconditions, a websocket change feed, and JWT bearer
// auth. It implements both Store and Session.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	mu    sync.Mutex
	token string
}

// NewHTTPStore creates a store client for the backend at baseURL. token
// may be empty for a signed-out client.
func NewHTTPStore(baseURL, token string, logger zerolog.Logger) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     logger,
		token:   token,
	}
}

type signInResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// SignInAnonymously registers an anonymous user with the backend and
// keeps the returned token for subsequent calls.
func (s *HTTPStore) SignInAnonymously(ctx context.Context) (*models.Identity, error) {
	var resp signInResponse
	if err := s.do(ctx, http.MethodPost, "/api/v1/users", nil, nil, &resp); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.token = resp.Token
	s.mu.Unlock()
	return &models.Identity{UserID: resp.ID}, nil
}

// CurrentIdentity derives the identity from the held token's claims. An
// absent or expired token means no live session.
func (s *HTTPStore) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, nil
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return nil, nil
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return nil, nil
	}
	ident := &models.Identity{UserID: userID}
	if email, ok := claims["email"].(string); ok {
		ident.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		ident.Name = name
	}
	return ident, nil
}

// SignOut drops the held token. The backend keeps no session state beyond
// the token itself.
func (s *HTTPStore) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}

func (s *HTTPStore) CreateDocument(ctx context.Context, collection string, fields map[string]any) (*Document, error) {
	var doc Document
	path := fmt.Sprintf("/api/v1/collections/%s/documents", url.PathEscape(collection))
	if err := s.do(ctx, http.MethodPost, path, nil, fields, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *HTTPStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	var doc Document
	path := fmt.Sprintf("/api/v1/collections/%s/documents/%s", url.PathEscape(collection), url.PathEscape(id))
	if err := s.do(ctx, http.MethodGet, path, nil, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *HTTPStore) UpdateDocument(ctx context.Context, collection, id string, expectedVersion int64, patch map[string]any) (*Document, error) {
	var doc Document
	path := fmt.Sprintf("/api/v1/collections/%s/documents/%s", url.PathEscape(collection), url.PathEscape(id))
	headers := map[string]string{"If-Match": strconv.FormatInt(expectedVersion, 10)}
	if err := s.do(ctx, http.MethodPatch, path, headers, patch, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *HTTPStore) DeleteDocument(ctx context.Context, collection, id string) error {
	path := fmt.Sprintf("/api/v1/collections/%s/documents/%s", url.PathEscape(collection), url.PathEscape(id))
	return s.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

type listResponse struct {
	Documents []*Document `json:"documents"`
}

func (s *HTTPStore) ListDocuments(ctx context.Context, collection string, filters []Filter, order *Order) ([]*Document, error) {
	q := url.Values{}
	for _, f := range filters {
		q.Add("filter", fmt.Sprintf("%s:%s:%v", f.Field, f.Op, f.Value))
	}
	if order != nil {
		field := order.Field
		if order.Desc {
			field = "-" + field
		}
		q.Set("order", field)
	}
	path := fmt.Sprintf("/api/v1/collections/%s/documents", url.PathEscape(collection))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp listResponse
	if err := s.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// Subscribe dials the backend's websocket feed and pumps change events to
// onEvent until unsubscribed. Read failures are reported once through
// onError and terminate the pump; reconnecting is the caller's policy.
func (s *HTTPStore) Subscribe(ctx context.Context, collections []string, onEvent EventHandler, onError ErrorHandler) (func(), error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil, fmt.Errorf("subscribe without session: %w", common.ErrAuthRequired)
	}

	wsURL := strings.Replace(s.baseURL, "http", "ws", 1) + "/ws?token=" + url.QueryEscape(token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("subscribe: %w", common.ErrAuthRequired)
		}
		return nil, fmt.Errorf("subscribe: %v: %w", err, common.ErrNetwork)
	}

	wanted := make(map[string]bool, len(collections))
	for _, c := range collections {
		wanted[c] = true
	}

	done := make(chan struct{})
	go func() {
		for {
			var ev models.ChangeEvent
			if err := conn.ReadJSON(&ev); err != nil {
				select {
				case <-done:
					// Unsubscribed; the close is expected.
				default:
					s.log.Warn().Err(err).Msg("change feed read failed")
					if onError != nil {
						onError(fmt.Errorf("change feed: %v: %w", err, common.ErrNetwork))
					}
				}
				return
			}
			if wanted[ev.Collection] && onEvent != nil {
				onEvent(ev)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			conn.Close()
		})
	}, nil
}

// do performs one HTTP round trip, translating transport and status
// errors into the closed taxonomy.
func (s *HTTPStore) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.mu.Lock()
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	s.mu.Unlock()
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, common.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(method, path, resp.StatusCode, data)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(method, path string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s %s: %s: %w", method, path, msg, common.ErrAuthRequired)
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %s: %w", method, path, msg, common.ErrNotFound)
	case http.StatusConflict, http.StatusPreconditionFailed:
		return fmt.Errorf("%s %s: %s: %w", method, path, msg, common.ErrConflict)
	case http.StatusBadRequest:
		return fmt.Errorf("%s %s: %s: %w", method, path, msg, common.ErrValidation)
	default:
		return fmt.Errorf("%s %s: status %d: %s: %w", method, path, status, msg, common.ErrNetwork)
	}
}
