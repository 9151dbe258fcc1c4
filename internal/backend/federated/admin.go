// Admin HTTP surface: the room hard-delete endpoints. Newer servers
// speak the v2 shape, older ones only v1; status polls try v2 first
// and fall back per call so a mid-upgrade server still works.
package federated

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

	"github.com/driftchat/drift/internal/core"
)

// AdminClient implements core.AdminAPI against the server's admin HTTP
// API using a bearer token.
type AdminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAdminClient creates an admin client. baseURL is the server root
// without a trailing slash.
func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (ac *AdminClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, ac.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ac.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ac.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// DeleteRoom starts a hard delete: block new joins and purge history.
func (ac *AdminClient) DeleteRoom(ctx context.Context, roomID string) error {
	path := "/admin/v2/rooms/" + url.PathEscape(roomID)
	status, data, err := ac.do(ctx, http.MethodDelete, path, map[string]any{
		"block": true,
		"purge": true,
	})
	if err != nil {
		return err
	}
	if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
		// Older servers only have the v1 endpoint.
		path = "/admin/v1/rooms/" + url.PathEscape(roomID) + "/delete"
		status, data, err = ac.do(ctx, http.MethodPost, path, map[string]any{
			"block": true,
			"purge": true,
		})
		if err != nil {
			return err
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("delete rejected with status %d: %s", status, truncate(data))
	}
	return nil
}

// DeleteStatus polls delete progress, v2 shape first then v1.
func (ac *AdminClient) DeleteStatus(ctx context.Context, roomID string) (core.PurgeStatus, error) {
	path := "/admin/v2/rooms/" + url.PathEscape(roomID) + "/delete_status"
	status, data, err := ac.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return core.PurgeStatusUnknown, err
	}
	if status == http.StatusOK {
		// v2: {"results": [{"status": "..."}]} with the newest attempt last.
		var body struct {
			Results []struct {
				Status string `json:"status"`
			} `json:"results"`
		}
		if err := json.Unmarshal(data, &body); err == nil && len(body.Results) > 0 {
			return mapStatus(body.Results[len(body.Results)-1].Status), nil
		}
	}

	path = "/admin/v1/rooms/" + url.PathEscape(roomID) + "/delete_status"
	status, data, err = ac.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return core.PurgeStatusUnknown, err
	}
	if status != http.StatusOK {
		return core.PurgeStatusUnknown, fmt.Errorf("status poll rejected with status %d", status)
	}
	// v1: {"status": "..."}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return core.PurgeStatusUnknown, fmt.Errorf("failed to decode status: %w", err)
	}
	return mapStatus(body.Status), nil
}

// RoomExists checks whether the server still lists the room.
func (ac *AdminClient) RoomExists(ctx context.Context, roomID string) (bool, error) {
	path := "/admin/v1/rooms/" + url.PathEscape(roomID)
	status, _, err := ac.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("existence check rejected with status %d", status)
	}
}

func mapStatus(s string) core.PurgeStatus {
	switch s {
	case "complete":
		return core.PurgeStatusComplete
	case "failed":
		return core.PurgeStatusFailed
	case "purging", "shutting_down", "active":
		return core.PurgeStatusPurging
	default:
		return core.PurgeStatusUnknown
	}
}

func truncate(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
