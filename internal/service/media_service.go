package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	gonanoid "github.com/matoous/go-nanoid/v2"

	config "github.com/maheshrc27/gramflow/configs"
	"github.com/maheshrc27/gramflow/internal/models"
)

// LocalMediaPrefix is the URL path the local store serves files under.
const LocalMediaPrefix = "/media"

// MediaStore persists generated media and returns a URL the platform can
// fetch. Relative URLs are resolved against the public base at publish time.
type MediaStore interface {
	Store(ctx context.Context, data []byte, ext string) (string, error)
}

// NewMediaStore picks the backend named by cfg.MediaStore.
func NewMediaStore(ctx context.Context, cfg config.Config) (MediaStore, error) {
	switch cfg.MediaStore {
	case "r2":
		return NewR2Store(ctx, cfg.R2)
	case "local", "":
		return NewLocalStore(cfg.MediaDir)
	}
	return nil, fmt.Errorf("unknown media store %q", cfg.MediaStore)
}

// DetectMedia sniffs the content and returns the media kind and extension.
func DetectMedia(data []byte) (models.MediaKind, string, error) {
	kind, err := filetype.Match(data)
	if err != nil {
		return "", "", err
	}
	switch kind.Extension {
	case "jpg", "png":
		return models.MediaKindImage, kind.Extension, nil
	case "mp4", "mov":
		return models.MediaKindVideo, kind.Extension, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, kind.MIME.Value)
}

func objectName(ext string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	return id + "." + strings.TrimPrefix(ext, "."), nil
}

func contentType(ext string) string {
	if t := filetype.GetType(strings.TrimPrefix(ext, ".")); t != filetype.Unknown {
		return t.MIME.Value
	}
	return "application/octet-stream"
}

type localStore struct {
	dir string
}

func NewLocalStore(dir string) (MediaStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &localStore{dir: dir}, nil
}

func (s *localStore) Store(_ context.Context, data []byte, ext string) (string, error) {
	name, err := objectName(ext)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return LocalMediaPrefix + "/" + name, nil
}

// r2Store uploads to Cloudflare R2 through its S3-compatible API.
type r2Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

func NewR2Store(ctx context.Context, r2 config.R2) (MediaStore, error) {
	if r2.PublicURL == "" {
		return nil, fmt.Errorf("r2 media store needs R2_PUBLIC_URL")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKey, r2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID))
	})

	return &r2Store{
		client:    client,
		bucket:    r2.BucketName,
		publicURL: strings.TrimRight(r2.PublicURL, "/"),
	}, nil
}

func (s *r2Store) Store(ctx context.Context, data []byte, ext string) (string, error) {
	name, err := objectName(ext)
	if err != nil {
		return "", err
	}
	key := "media/" + name

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(ext)),
	})
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return s.publicURL + "/" + key, nil
}
