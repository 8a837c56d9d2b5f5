package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skillgate/roomkit/internal/core/domain"
	"github.com/skillgate/roomkit/internal/core/port"
)

const (
	contentType = "application/json"
	userAgent   = "roomkit/1.0"
)

// Client talks to the platform backend: room directory lookups before
// a join, integrity report submission after an attempt, and recording
// uploads. The backend owns persistence and scoring; this client only
// delivers.
type Client struct {
	token      string
	HTTPClient *http.Client
	BaseURL    string
	UserAgent  string
}

func New(baseURL, token string) *Client {
	return &Client{
		token:   token,
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		UserAgent: userAgent,
	}
}

func (c *Client) GetRoom(ctx context.Context, code domain.RoomCode) (domain.RoomMetadata, error) {
	var room domain.RoomMetadata
	url := fmt.Sprintf("%s/api/rooms/%s", c.BaseURL, code)
	if err := c.getJSON(ctx, url, &room); err != nil {
		return domain.RoomMetadata{}, err
	}
	return room, nil
}

func (c *Client) SubmitIntegrityReport(ctx context.Context, challengeID, attemptID string, report domain.IntegrityReport) error {
	url := fmt.Sprintf("%s/api/challenges/%s/attempts/%s/integrity", c.BaseURL, challengeID, attemptID)
	return c.postJSON(ctx, url, report)
}

func (c *Client) UploadRecording(ctx context.Context, room domain.RoomCode, segments []port.RecordingSegment) error {
	type segmentDTO struct {
		Index      int    `json:"index"`
		DurationMS int64  `json:"durationMs"`
		Data       []byte `json:"data"`
	}
	body := make([]segmentDTO, 0, len(segments))
	for _, s := range segments {
		body = append(body, segmentDTO{
			Index:      s.Index,
			DurationMS: s.Duration.Milliseconds(),
			Data:       s.Data,
		})
	}

	url := fmt.Sprintf("%s/api/rooms/%s/recordings", c.BaseURL, room)
	return c.postJSON(ctx, url, body)
}

func (c *Client) getJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func (c *Client) postJSON(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("bad status: %s", resp.Status)
	}
	return nil
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	log.Debug().Str("url", req.URL.String()).Str("method", req.Method).Msg("Backend request")
	return c.HTTPClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", c.UserAgent)
}
