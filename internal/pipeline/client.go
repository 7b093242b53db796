package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Export statuses as reported by the pipeline API.
const (
	ExportStarting = "starting"
	ExportActive   = "active"
	ExportEnding   = "ending"
	ExportComplete = "complete"
	ExportFailed   = "failed"
)

const (
	tokenIssuer = "openvidu-meet"
	tokenTTL    = time.Minute
)

var errNotFound = errors.New("not found")

// ExportStatusLive reports whether the status names an export the pipeline
// is still running.
func ExportStatusLive(status string) bool {
	switch status {
	case ExportStarting, ExportActive, ExportEnding:
		return true
	}
	return false
}

// Client talks to the media pipeline's REST API. Every request carries a
// freshly signed service token.
type Client struct {
	baseURL string
	tokens  *TokenSigner
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a pipeline client for the given base URL and shared
// secret.
func NewClient(baseURL, secret string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		tokens:  NewTokenSigner(secret, tokenIssuer, tokenTTL),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type exportInfo struct {
	ExportID string `json:"export_id"`
	RoomID   string `json:"room_id,omitempty"`
	Status   string `json:"status"`
}

type exportList struct {
	Exports []exportInfo `json:"exports"`
}

// StartExport asks the pipeline to begin capturing the room and returns the
// export's id.
func (c *Client) StartExport(ctx context.Context, roomID string) (string, error) {
	var out exportInfo
	err := c.do(ctx, http.MethodPost, "/v1/exports", map[string]string{"room_id": roomID}, &out)
	if err != nil {
		return "", err
	}
	if out.ExportID == "" {
		return "", fmt.Errorf("pipeline returned no export id for room %q", roomID)
	}
	return out.ExportID, nil
}

// StopExport asks the pipeline to stop the export.
func (c *Client) StopExport(ctx context.Context, exportID string) error {
	return c.do(ctx, http.MethodPost, "/v1/exports/"+url.PathEscape(exportID)+"/stop", nil, nil)
}

// GetExportStatus returns the pipeline's status for the export, or "" when
// the pipeline no longer knows it.
func (c *Client) GetExportStatus(ctx context.Context, exportID string) (string, error) {
	var out exportInfo
	err := c.do(ctx, http.MethodGet, "/v1/exports/"+url.PathEscape(exportID), nil, &out)
	if errors.Is(err, errNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return out.Status, nil
}

// HasActiveExport reports whether the pipeline is running any export for the
// room right now. The room's export list includes finished exports, so live
// ones are filtered by status here.
func (c *Client) HasActiveExport(ctx context.Context, roomID string) (bool, error) {
	var out exportList
	err := c.do(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(roomID)+"/exports", nil, &out)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, e := range out.Exports {
		if ExportStatusLive(e.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("sign service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("pipeline %s %s: %w", method, path, errNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pipeline %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("pipeline %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
