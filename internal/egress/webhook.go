package egress

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidPayload is returned for webhook bodies missing a job id or event name.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrUnknownKind is returned for event names the controller does not act on.
	ErrUnknownKind = errors.New("unknown webhook event")
	// ErrInvalidSignature is returned when the webhook token or body hash does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Attributes is the optional attribute bag of a webhook.
type Attributes struct {
	Bucket          string `json:"bucket,omitempty"`
	Path            string `json:"path,omitempty"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
	FileSizeBytes   *int64 `json:"file_size_bytes,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Payload is the webhook body posted by the egress gateway.
type Payload struct {
	JobID      string     `json:"job_id"`
	Event      string     `json:"event"`
	Timestamp  int64      `json:"timestamp"` // unix seconds
	Sequence   int64      `json:"sequence"`
	Attributes Attributes `json:"attributes"`
}

// DecodePayload parses and normalizes a raw webhook body.
func DecodePayload(body []byte) (Event, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p.Normalize()
}

// Normalize converts the payload into an Event, resolving event aliases.
func (p Payload) Normalize() (Event, error) {
	if strings.TrimSpace(p.JobID) == "" || strings.TrimSpace(p.Event) == "" {
		return Event{}, ErrInvalidPayload
	}
	kind, ok := ParseKind(p.Event)
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, p.Event)
	}
	ev := Event{
		JobID: p.JobID,
		Kind:  kind,
		Seq:   p.Sequence,
		Artifact: Artifact{
			Bucket:          p.Attributes.Bucket,
			Path:            p.Attributes.Path,
			DurationSeconds: p.Attributes.DurationSeconds,
			FileSizeBytes:   p.Attributes.FileSizeBytes,
		},
		Reason: p.Attributes.Error,
	}
	if p.Timestamp > 0 {
		ev.At = time.Unix(p.Timestamp, 0).UTC()
	}
	if kind == KindFailed && ev.Reason == "" {
		ev.Reason = "egress " + strings.ToLower(p.Event)
	}
	return ev, nil
}

type webhookClaims struct {
	SHA256 string `json:"sha256"`
	jwt.RegisteredClaims
}

// VerifySignature checks the bearer token in authHeader: an HS256 JWT signed with secret whose
// sha256 claim is the base64 SHA-256 digest of body.
func VerifySignature(secret, authHeader string, body []byte) error {
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tokenString == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidSignature)
	}
	claims := &webhookClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sum := sha256.Sum256(body)
	want := base64.StdEncoding.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(claims.SHA256), []byte(want)) != 1 {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}
	return nil
}

// SignBody returns a webhook bearer token for body. Used by gateway simulators and tests.
func SignBody(secret string, body []byte, ttl time.Duration) (string, error) {
	sum := sha256.Sum256(body)
	now := time.Now()
	claims := webhookClaims{
		SHA256: base64.StdEncoding.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
