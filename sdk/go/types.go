package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// GameRef identifies a game on the server.
type GameRef struct {
	Owner string `json:"owner"`
	Slug  string `json:"slug"`
}

// AssetRef describes an uploaded image.
type AssetRef struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("request failed: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyGameKey is returned when owner or slug is empty.
var ErrEmptyGameKey = errors.New("owner and slug are required")
