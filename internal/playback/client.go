package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echosphere/backend/internal/models"
)

// FetchError is a failed read from the recordings API. Message carries the server's error text
// when there is one; Status is 0 for transport failures.
type FetchError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return "fetch: " + e.Message
	}
	return fmt.Sprintf("fetch: status %d: %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type playbackURL struct {
	PlaybackURL string `json:"playback_url"`
	ExpiresIn   int    `json:"expires_in"`
}

// Client reads recordings and transcripts from the recordings API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a client for the API at baseURL authenticated with a bearer token.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{http: rc, logger: logger}
}

// Recording returns the recording detail with its ordered transcript.
func (c *Client) Recording(ctx context.Context, id uuid.UUID) (*models.RecordingDetail, error) {
	var out models.RecordingDetail
	if err := c.get(ctx, "/recordings/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	SortTranscript(out.Transcript)
	return &out, nil
}

// List returns one page of the caller's recordings.
func (c *Client) List(ctx context.Context, page, pageSize int) (*models.RecordingPage, error) {
	params := map[string]string{
		"page":      strconv.Itoa(page),
		"page_size": strconv.Itoa(pageSize),
	}
	var out models.RecordingPage
	if err := c.get(ctx, "/recordings", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaybackURL returns a short-lived playlist URL for a completed recording.
func (c *Client) PlaybackURL(ctx context.Context, id uuid.UUID) (string, error) {
	var out playbackURL
	if err := c.get(ctx, "/recordings/"+id.String()+"/playback-url", nil, &out); err != nil {
		return "", err
	}
	return out.PlaybackURL, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, dst interface{}) error {
	var body envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		SetError(&body).
		Get(path)
	if err != nil {
		return &FetchError{Message: err.Error(), Retryable: true}
	}
	if resp.IsError() || !body.Success {
		msg := body.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		c.logger.Debug("recordings api error", zap.String("path", path), zap.Int("status", resp.StatusCode()), zap.String("error", msg))
		return &FetchError{Status: resp.StatusCode(), Message: msg, Retryable: retryableStatus(resp.StatusCode())}
	}
	if err := json.Unmarshal(body.Data, dst); err != nil {
		return &FetchError{Status: resp.StatusCode(), Message: "decode response: " + err.Error()}
	}
	return nil
}

// retryableStatus reports whether asking again may succeed. Not-found is included: a recording
// or its transcript may not be visible yet right after the conversation ends.
func retryableStatus(status int) bool {
	switch {
	case status == http.StatusNotFound, status == http.StatusTooManyRequests:
		return true
	default:
		return status >= http.StatusInternalServerError
	}
}
