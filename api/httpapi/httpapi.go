package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	wsadapter "vttkit/adapters/websocket"
	"vttkit/core"
	"vttkit/session"
)

// maxUploadBytes bounds image and archive request bodies.
const maxUploadBytes = 32 << 20

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
}

// NewMux builds an http.Handler exposing the table session REST API and
// WebSocket attach point.
// Routes:
//   - GET    {prefix}/healthz
//   - POST   {prefix}/games/{owner}/{slug}          create game from single image
//   - DELETE {prefix}/games/{owner}/{slug}          delete game
//   - GET    {prefix}/games/{owner}/{slug}/ws       WebSocket attach (query: name, color)
//   - POST   {prefix}/games/{owner}/{slug}/upload   multipart image upload
//   - GET    {prefix}/games/{owner}/{slug}/export   zip archive download
//   - POST   {prefix}/games/{owner}/{slug}/import   create game from uploaded zip
//   - GET    /token/{owner}/{slug}/{id}.{ext}       asset file
//
// Asset URLs embedded in game state are root-relative, so the /token/
// route ignores PathPrefix.
func NewMux(svc *session.Service, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/healthz"), func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, svc)
	})

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/games/"), func(w http.ResponseWriter, r *http.Request) {
		gamesHandler(w, r, svc, opts.PathPrefix)
	})

	mux.HandleFunc("/token/", func(w http.ResponseWriter, r *http.Request) {
		assetHandler(w, r, svc)
	})

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

func gamesHandler(w http.ResponseWriter, r *http.Request, svc *session.Service, prefix string) {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	parts := split(path, '/')
	// ["games", owner, slug] or ["games", owner, slug, action]
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		return
	}
	owner, err := core.NormalizeOwner(core.OwnerID(parts[1]))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_owner", err.Error(), nil)
		return
	}
	slug, err := core.NormalizeSlug(core.Slug(parts[2]))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slug", err.Error(), nil)
		return
	}
	key := core.GameKey{Owner: owner, Slug: slug}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodPost:
			createGame(w, r, svc, key)
		case http.MethodDelete:
			deleteGame(w, r, svc, key)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST or DELETE", nil)
		}
		return
	}

	switch parts[3] {
	case "ws":
		q := r.URL.Query()
		wsadapter.Attach(svc, nil, w, r, owner, slug, q.Get("name"), q.Get("color"))
	case "upload":
		uploadAsset(w, r, svc, key)
	case "export":
		exportGame(w, r, svc, key)
	case "import":
		importGame(w, r, svc, key)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	}
}

func createGame(w http.ResponseWriter, r *http.Request, svc *session.Service, key core.GameKey) {
	data, hint, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", err.Error(), nil)
		return
	}
	entry, err := svc.CreateFromImage(r.Context(), key, data, hint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"owner": entry.Key.Owner, "slug": entry.Key.Slug})
}

func deleteGame(w http.ResponseWriter, r *http.Request, svc *session.Service, key core.GameKey) {
	if err := svc.DeleteGame(r.Context(), key.Owner, key.Slug); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such game", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func uploadAsset(w http.ResponseWriter, r *http.Request, svc *session.Service, key core.GameKey) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
		return
	}
	data, hint, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", err.Error(), nil)
		return
	}
	id, url, err := svc.Upload(r.Context(), key.Owner, key.Slug, data, hint)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such game", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	writeJSON(w, map[string]any{"id": id, "url": url})
}

func exportGame(w http.ResponseWriter, r *http.Request, svc *session.Service, key core.GameKey) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}
	data, err := svc.ExportArchive(r.Context(), key.Owner, key.Slug)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such game", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+string(key.Slug)+`.zip"`)
	_, _ = w.Write(data)
}

func importGame(w http.ResponseWriter, r *http.Request, svc *session.Service, key core.GameKey) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
		return
	}
	data, _, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", err.Error(), nil)
		return
	}
	entry, err := svc.ImportArchive(r.Context(), key, data)
	if err != nil {
		if errors.Is(err, core.ErrMalformedArchive) {
			writeError(w, http.StatusBadRequest, "malformed_archive", err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"owner": entry.Key.Owner, "slug": entry.Key.Slug})
}

// assetHandler serves image files straight from the per-game asset
// directory at their canonical URL.
func assetHandler(w http.ResponseWriter, r *http.Request, svc *session.Service) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}
	parts := split(r.URL.Path, '/')
	// ["token", owner, slug, "<id>.<ext>"]
	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		return
	}
	id, err := core.AssetIDFromURL(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no such asset", nil)
		return
	}
	entry, err := svc.GetGame(r.Context(), core.OwnerID(parts[1]), core.Slug(parts[2]))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no such game", nil)
		return
	}
	file, ok := entry.Assets.Path(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such asset", nil)
		return
	}
	http.ServeFile(w, r, file)
}

// readUpload accepts either a multipart form with a "file" part or a raw
// request body, returning the bytes and a filename hint.
func readUpload(r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		if len(data) == 0 {
			return nil, "", errors.New("empty upload")
		}
		return data, header.Filename, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty upload")
	}
	return data, "", nil
}

// Helpers

// healthCheck verifies the durable store answers before reporting healthy.
func healthCheck(w http.ResponseWriter, r *http.Request, svc *session.Service) {
	err := svc.Ping(r.Context())

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}

	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	} else {
		w.WriteHeader(http.StatusOK)
	}

	writeJSON(w, status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func split(p string, sep rune) []string {
	var parts []string
	cur := make([]rune, 0, len(p))
	// trim leading '/'
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for _, r := range p {
		if r == sep {
			if len(cur) > 0 {
				parts = append(parts, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a simple token-bucket limiter per client key.
func withRateLimit(next http.Handler, rpm int, burst int) http.Handler {
	limiter := newRateLimiter(rpm, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rateLimiter struct {
	rpm   float64
	burst float64
	mu    sync.Mutex
	b     map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rpm, burst int) *rateLimiter {
	return &rateLimiter{
		rpm:   float64(rpm),
		burst: float64(burst),
		b:     make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.b[key]
	if !ok {
		l.b[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	elapsed := now.Sub(b.last).Minutes()
	b.tokens += elapsed * l.rpm
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	if b.tokens < 1 {
		b.last = now
		return false
	}
	b.tokens--
	b.last = now
	return true
}
