package egress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRejected is returned when the gateway answers a command with a non-2xx status.
var ErrRejected = errors.New("egress gateway rejected request")

// ClientConfig holds gateway connection and output settings.
type ClientConfig struct {
	URL             string
	APIKey          string
	APISecret       string
	Bucket          string
	SegmentDuration int
	Width           int
	Height          int
	Timeout         time.Duration
}

// OutputOptions tells the gateway where and how to write HLS segments.
type OutputOptions struct {
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	SegmentDuration int    `json:"segment_duration"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

type startRequest struct {
	RoomName string        `json:"room_name"`
	Output   OutputOptions `json:"output"`
}

type startResponse struct {
	EgressID string `json:"egress_id"`
}

type stopRequest struct {
	EgressID string `json:"egress_id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// grantClaims authorizes a single room-record command.
type grantClaims struct {
	Video videoGrant `json:"video"`
	jwt.RegisteredClaims
}

type videoGrant struct {
	Room       string `json:"room,omitempty"`
	RoomRecord bool   `json:"roomRecord"`
}

// Client issues start/stop commands to the egress gateway over HTTP.
type Client struct {
	http   *resty.Client
	cfg    ClientConfig
	logger *zap.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	http := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http, cfg: cfg, logger: logger}
}

// Start begins capturing the session's room into outputPrefix and returns the gateway job id.
// The room name is the session id.
func (c *Client) Start(ctx context.Context, sessionID uuid.UUID, outputPrefix string) (string, error) {
	room := sessionID.String()
	token, err := c.accessToken(room)
	if err != nil {
		return "", err
	}
	var out startResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(startRequest{
			RoomName: room,
			Output: OutputOptions{
				Bucket:          c.cfg.Bucket,
				Prefix:          outputPrefix,
				SegmentDuration: c.cfg.SegmentDuration,
				Width:           c.cfg.Width,
				Height:          c.cfg.Height,
			},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/egress/start")
	if err != nil {
		return "", fmt.Errorf("egress start: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: start: status %d: %s", ErrRejected, resp.StatusCode(), apiErr.text(resp))
	}
	if out.EgressID == "" {
		return "", fmt.Errorf("%w: start: empty egress_id", ErrRejected)
	}
	c.logger.Info("egress started", zap.String("session_id", room), zap.String("egress_id", out.EgressID), zap.String("prefix", outputPrefix))
	return out.EgressID, nil
}

// Stop asks the gateway to finish the job. Completion arrives later as an ended webhook.
func (c *Client) Stop(ctx context.Context, jobID string) error {
	token, err := c.accessToken("")
	if err != nil {
		return err
	}
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(stopRequest{EgressID: jobID}).
		SetError(&apiErr).
		Post("/egress/stop")
	if err != nil {
		return fmt.Errorf("egress stop: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: stop: status %d: %s", ErrRejected, resp.StatusCode(), apiErr.text(resp))
	}
	c.logger.Info("egress stop requested", zap.String("egress_id", jobID))
	return nil
}

func (c *Client) accessToken(room string) (string, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return "", fmt.Errorf("egress: api key and secret required")
	}
	now := time.Now()
	claims := grantClaims{
		Video: videoGrant{Room: room, RoomRecord: true},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.APIKey,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("egress: sign access token: %w", err)
	}
	return signed, nil
}

func (e errorResponse) text(resp *resty.Response) string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	}
	return strings.TrimSpace(resp.String())
}
