// internal/transport/http.go
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jason-s-yu/gameroom/internal/models"
)

// HTTPClient implements the request/response half of the room API.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client
}

// NewHTTPClient builds a client for apiURL. A nil hc uses a client with a 10s timeout.
func NewHTTPClient(apiURL, token string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(apiURL, "/"), token: token, hc: hc}
}

type errorBody struct {
	Error string `json:"error"`
}

type accessBody struct {
	PasswordProtected bool `json:"passwordProtected"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type passwordResponse struct {
	Valid bool `json:"valid"`
}

type readyRequest struct {
	Ready bool `json:"ready"`
}

type transferRequest struct {
	NewCreatorID string `json:"newCreatorId"`
}

func (c *HTTPClient) gameURL(roomID, suffix string) string {
	u := c.baseURL + "/api/games/" + url.PathEscape(roomID)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error == "" {
			eb.Error = resp.Status
		}
		return fmt.Errorf("%w: %s", ErrRejected, eb.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// FetchSnapshot returns the room and its roster as the server sees them now.
func (c *HTTPClient) FetchSnapshot(ctx context.Context, roomID string) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.do(ctx, http.MethodGet, c.gameURL(roomID, ""), nil, &snap); err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

func (c *HTTPClient) PasswordProtected(ctx context.Context, roomID string) (bool, error) {
	var ab accessBody
	if err := c.do(ctx, http.MethodGet, c.gameURL(roomID, "access"), nil, &ab); err != nil {
		return false, err
	}
	return ab.PasswordProtected, nil
}

func (c *HTTPClient) VerifyPassword(ctx context.Context, roomID, password string) (bool, error) {
	var pr passwordResponse
	if err := c.do(ctx, http.MethodPost, c.gameURL(roomID, "password"), passwordRequest{Password: password}, &pr); err != nil {
		return false, err
	}
	return pr.Valid, nil
}

func (c *HTTPClient) StartGame(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, c.gameURL(roomID, "start"), nil, nil)
}

func (c *HTTPClient) AddBot(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, c.gameURL(roomID, "bot"), nil, nil)
}

func (c *HTTPClient) SetReady(ctx context.Context, roomID string, ready bool) error {
	return c.do(ctx, http.MethodPost, c.gameURL(roomID, "ready"), readyRequest{Ready: ready}, nil)
}

func (c *HTTPClient) TransferCreator(ctx context.Context, roomID, newCreatorID string) error {
	return c.do(ctx, http.MethodPost, c.gameURL(roomID, "transfer"), transferRequest{NewCreatorID: newCreatorID}, nil)
}

func (c *HTTPClient) Leave(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, c.gameURL(roomID, "leave"), nil, nil)
}
