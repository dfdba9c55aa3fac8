// Package mediaserver provides the REST client for the media server:
// authentication, stream URL resolution, item queries, and best-effort
// playback reporting.
package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/yaytsa/player/internal/domain/track"
)

// ticksPerSecond is the server's playback position unit (100ns ticks).
const ticksPerSecond = 10_000_000

// Config represents media server client configuration.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	ClientName string
	Version    string
	DeviceName string
}

// Client is a media server API client. Authenticate must succeed before
// stream URLs or reports are usable.
type Client struct {
	cfg        Config
	httpClient *http.Client
	deviceID   string

	mu     sync.RWMutex
	token  string
	userID string
}

// New creates an unauthenticated client with a fresh device ID.
func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		deviceID:   uuid.New().String(),
	}
}

// authResponse mirrors the server's AuthenticationResult payload.
type authResponse struct {
	User struct {
		ID   string `json:"Id"`
		Name string `json:"Name"`
	} `json:"User"`
	AccessToken string `json:"AccessToken"`
}

// Authenticate logs in by name and stores the access token.
func (c *Client) Authenticate(ctx context.Context) error {
	body := map[string]string{
		"Username": c.cfg.Username,
		"Pw":       c.cfg.Password,
	}

	var result authResponse
	if err := c.post(ctx, "/Users/AuthenticateByName", body, &result); err != nil {
		return errors.Wrap(err, "authentication failed")
	}
	if result.AccessToken == "" {
		return errors.New("authentication returned no access token")
	}

	c.mu.Lock()
	c.token = result.AccessToken
	c.userID = result.User.ID
	c.mu.Unlock()

	zlog.Info().Msgf("mediaserver: authenticated: user=%s device=%s", result.User.Name, c.deviceID)
	return nil
}

// StreamURL returns the direct stream locator for an item. Implements the
// orchestrator's StreamResolver contract.
func (c *Client) StreamURL(trackID string) string {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	q := url.Values{}
	q.Set("api_key", token)
	q.Set("deviceId", c.deviceID)
	q.Set("static", "true")
	return fmt.Sprintf("%s/Audio/%s/stream?%s", c.cfg.BaseURL, trackID, q.Encode())
}

// itemsResponse mirrors the server's QueryResult payload, reduced to the
// fields the playback core needs.
type itemsResponse struct {
	Items []struct {
		ID           string   `json:"Id"`
		Name         string   `json:"Name"`
		Artists      []string `json:"Artists"`
		Album        string   `json:"Album"`
		AlbumID      string   `json:"AlbumId"`
		IndexNumber  int      `json:"IndexNumber"`
		RunTimeTicks int64    `json:"RunTimeTicks"`
		Container    string   `json:"Container"`
	} `json:"Items"`
	TotalRecordCount int `json:"TotalRecordCount"`
}

// Tracks fetches the audio items under a parent (album or playlist) in
// server order.
func (c *Client) Tracks(ctx context.Context, parentID string) ([]track.Track, error) {
	q := url.Values{}
	q.Set("ParentId", parentID)
	q.Set("IncludeItemTypes", "Audio")
	q.Set("SortBy", "IndexNumber")

	var result itemsResponse
	if err := c.get(ctx, "/Items?"+q.Encode(), &result); err != nil {
		return nil, errors.Wrapf(err, "fetching items for %s", parentID)
	}

	tracks := make([]track.Track, 0, len(result.Items))
	for _, item := range result.Items {
		tracks = append(tracks, track.Track{
			ID:          item.ID,
			Name:        item.Name,
			Artists:     item.Artists,
			Album:       item.Album,
			AlbumID:     item.AlbumID,
			IndexNumber: item.IndexNumber,
			Duration:    time.Duration(item.RunTimeTicks * 100), // 1 tick = 100ns
			Container:   item.Container,
		})
	}
	return tracks, nil
}

// --- Playback reporting (best-effort, failures logged and dropped) ---

// ReportStart notifies the server that playback started for an item.
func (c *Client) ReportStart(ctx context.Context, trackID string) {
	body := map[string]any{
		"ItemId":     trackID,
		"PlayMethod": "DirectStream",
	}
	if err := c.post(ctx, "/Sessions/Playing", body, nil); err != nil {
		zlog.Warn().Msgf("mediaserver: report start failed: track=%s error=%v", trackID, err)
	}
}

// ReportProgress updates the server-side playback position.
func (c *Client) ReportProgress(ctx context.Context, trackID string, position time.Duration, paused bool) {
	body := map[string]any{
		"ItemId":        trackID,
		"PositionTicks": toTicks(position),
		"IsPaused":      paused,
		"PlayMethod":    "DirectStream",
	}
	if err := c.post(ctx, "/Sessions/Playing/Progress", body, nil); err != nil {
		zlog.Warn().Msgf("mediaserver: report progress failed: track=%s error=%v", trackID, err)
	}
}

// ReportStopped notifies the server that playback stopped.
func (c *Client) ReportStopped(ctx context.Context, trackID string, position time.Duration) {
	body := map[string]any{
		"ItemId":        trackID,
		"PositionTicks": toTicks(position),
	}
	if err := c.post(ctx, "/Sessions/Playing/Stopped", body, nil); err != nil {
		zlog.Warn().Msgf("mediaserver: report stopped failed: track=%s error=%v", trackID, err)
	}
}

// --- HTTP plumbing ---

func (c *Client) authHeader() string {
	return fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		c.cfg.ClientName, c.cfg.DeviceName, c.deviceID, c.cfg.Version)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encoding request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("X-Emby-Authorization", c.authHeader())
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("X-Emby-Token", c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Newf("server returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}

func toTicks(d time.Duration) int64 {
	return int64(d.Seconds() * ticksPerSecond)
}
