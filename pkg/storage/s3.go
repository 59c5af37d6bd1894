package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// FolderRecordings is the S3 prefix for recording objects.
	FolderRecordings = "recordings"
	// PlaylistName is the HLS playlist the egress gateway writes under a recording prefix.
	PlaylistName = "index.m3u8"
	// TranscriptName is the transcript sidecar written next to the playlist.
	TranscriptName = "transcript.json"
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	Endpoint             string // S3-compatible endpoint (MinIO); empty for AWS
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// S3 provides S3 operations for recording artifacts: pre-signed playback URLs, object metadata
// and server-side uploads.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("recordings_bucket", cfg.RecordingsBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024 // 5MB parts for streaming
	})
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// OutputPrefix returns the deterministic egress output prefix for a session: recordings/{session_id}.
func OutputPrefix(sessionID string) string {
	return path.Join(FolderRecordings, sessionID)
}

// PlaylistKey returns the playlist object key for a storage path. A path that already names a
// playlist is returned as-is; otherwise it is treated as a prefix.
func PlaylistKey(storagePath string) string {
	p := strings.TrimPrefix(storagePath, "/")
	if strings.HasSuffix(p, ".m3u8") {
		return p
	}
	return path.Join(p, PlaylistName)
}

// TranscriptKey returns the transcript sidecar key next to the playlist of storagePath.
func TranscriptKey(storagePath string) string {
	return path.Join(path.Dir(PlaylistKey(storagePath)), TranscriptName)
}

// GeneratePresignedDownloadURL returns a pre-signed GET URL for download.
func (s *S3) GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// PresignPlaylist returns a pre-signed URL for the playlist under storagePath using the configured expiry.
func (s *S3) PresignPlaylist(ctx context.Context, bucket, storagePath string) (string, error) {
	return s.GeneratePresignedDownloadURL(ctx, bucket, PlaylistKey(storagePath), s.PresignExpire())
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// RecordingsBucket returns the recordings bucket name.
func (s *S3) RecordingsBucket() string { return s.cfg.RecordingsBucket }

// PlaylistURL returns the canonical (unsigned) playlist URL for a completed recording.
func (s *S3) PlaylistURL(bucket, storagePath string) string {
	return ObjectURL(s.cfg.Endpoint, s.cfg.Region, bucket, PlaylistKey(storagePath))
}

// ObjectURL returns the unsigned URL of an object, path-style when an endpoint override is set.
func ObjectURL(endpoint, region, bucket, key string) string {
	if endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(endpoint, "/"), bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// ObjectSize returns the content length of an object.
func (s *S3) ObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("head object: %w", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Upload streams a reader to S3 (server-side uploads such as the transcript sidecar).
func (s *S3) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error) {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return ObjectURL(s.cfg.Endpoint, s.cfg.Region, bucket, key), nil
}
