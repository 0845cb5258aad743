package sdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"vttkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the table server HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// CreateGame builds a new game whose single scene shows the uploaded image
// as background.
func (c *Client) CreateGame(ctx context.Context, owner, slug string, image []byte, filename string) (GameRef, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(slug) == "" {
		return GameRef{}, ErrEmptyGameKey
	}
	u := fmt.Sprintf("%s/games/%s/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(slug))
	resp, err := c.postFile(ctx, u, image, filename)
	if err != nil {
		return GameRef{}, err
	}
	defer resp.Body.Close()

	var ref GameRef
	if err := decodeJSON(resp, &ref); err != nil {
		return GameRef{}, err
	}
	return ref, nil
}

// DeleteGame removes a game, its assets, and its durable record.
func (c *Client) DeleteGame(ctx context.Context, owner, slug string) error {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(slug) == "" {
		return ErrEmptyGameKey
	}
	u := fmt.Sprintf("%s/games/%s/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		OK bool `json:"ok"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return err
	}
	if !body.OK {
		return errors.New("game not deleted")
	}
	return nil
}

// UploadAsset stores an image in the game's asset directory. Re-uploading
// identical bytes returns the existing asset.
func (c *Client) UploadAsset(ctx context.Context, owner, slug string, data []byte, filename string) (AssetRef, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(slug) == "" {
		return AssetRef{}, ErrEmptyGameKey
	}
	u := fmt.Sprintf("%s/games/%s/%s/upload", c.baseURL, url.PathEscape(owner), url.PathEscape(slug))
	resp, err := c.postFile(ctx, u, data, filename)
	if err != nil {
		return AssetRef{}, err
	}
	defer resp.Body.Close()

	var ref AssetRef
	if err := decodeJSON(resp, &ref); err != nil {
		return AssetRef{}, err
	}
	return ref, nil
}

// Export downloads a game as a portable zip archive.
func (c *Client) Export(ctx context.Context, owner, slug string) ([]byte, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(slug) == "" {
		return nil, ErrEmptyGameKey
	}
	u := fmt.Sprintf("%s/games/%s/%s/export", c.baseURL, url.PathEscape(owner), url.PathEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("request failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Import creates a game from a zip archive produced by Export.
func (c *Client) Import(ctx context.Context, owner, slug string, archive []byte) (GameRef, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(slug) == "" {
		return GameRef{}, ErrEmptyGameKey
	}
	u := fmt.Sprintf("%s/games/%s/%s/import", c.baseURL, url.PathEscape(owner), url.PathEscape(slug))
	resp, err := c.postFile(ctx, u, archive, slug+".zip")
	if err != nil {
		return GameRef{}, err
	}
	defer resp.Body.Close()

	var ref GameRef
	if err := decodeJSON(resp, &ref); err != nil {
		return GameRef{}, err
	}
	return ref, nil
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	u := c.baseURL + "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return HealthStatus{}, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	var hs HealthStatus
	if err := decodeJSON(resp, &hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// GameSession is a live WebSocket attachment to one game.
type GameSession struct {
	conn   *websocket.Conn
	events chan core.Event
}

// Events emits broadcasts from other players. The channel closes when the
// session context ends or the connection drops.
func (s *GameSession) Events() <-chan core.Event { return s.events }

// Send submits a mutation event. The canonical applied event comes back to
// the other members; the sender sees only the local echo it chooses to keep.
func (s *GameSession) Send(ev core.Event) error {
	return s.conn.WriteJSON(ev)
}

// Close terminates the session.
func (s *GameSession) Close() error { return s.conn.Close() }

// Join attaches to a game's event stream as the named player.
func (c *Client) Join(ctx context.Context, owner, slug, name, color string) (*GameSession, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(slug) == "" {
		return nil, ErrEmptyGameKey
	}
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	u, err := url.Parse(fmt.Sprintf("%s/games/%s/%s/ws", c.wsURL, url.PathEscape(owner), url.PathEscape(slug)))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("name", name)
	q.Set("color", color)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), c.headers)
	if err != nil {
		return nil, err
	}

	s := &GameSession{conn: conn, events: make(chan core.Event, 32)}
	go func() {
		defer close(s.events)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var evt core.Event
				if err := conn.ReadJSON(&evt); err != nil {
					return
				}
				select {
				case s.events <- evt:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return s, nil
}

// postFile sends data as a multipart "file" part.
func (c *Client) postFile(ctx context.Context, u string, data []byte, filename string) (*http.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.applyHeaders(req)

	return c.httpClient.Do(req)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
