package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"

	"github.com/noah-isme/homegroup-report-api/pkg/config"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
)

// S3Store is the object store gateway. All objects for a given owner live
// under a key prefixed by the owner's identifier; templates live under a
// fixed prefix that bypasses owner scoping.
type S3Store struct {
	client           *s3.S3
	bucket           string
	templatePrefix   string
	templateFilename string
	presignTTL       time.Duration
	allowedExts      map[string]struct{}
	logger           *zap.Logger
}

// NewS3Store builds the gateway from configuration.
func NewS3Store(cfg config.StorageConfig, logger *zap.Logger) (*S3Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.DisableSSL = aws.Bool(!cfg.UseSSL)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	exts := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		exts[strings.ToLower(strings.TrimSpace(ext))] = struct{}{}
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &S3Store{
		client:           s3.New(sess),
		bucket:           cfg.Bucket,
		templatePrefix:   strings.Trim(cfg.TemplatePrefix, "/"),
		templateFilename: cfg.TemplateFilename,
		presignTTL:       ttl,
		allowedExts:      exts,
		logger:           logger,
	}, nil
}

// ObjectKey builds an owner-scoped object key.
func ObjectKey(ownerID string, parts ...string) string {
	segments := append([]string{ownerID}, parts...)
	return path.Join(segments...)
}

// ExtensionAllowed reports whether the filename carries a permitted extension.
func (s *S3Store) ExtensionAllowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	_, ok := s.allowedExts[ext]
	return ok
}

// Upload stores a local file under the owner's prefix and returns a presigned
// URL for it. On upload failure it attempts best-effort cleanup of any partial
// remote object before returning the error.
func (s *S3Store) Upload(ctx context.Context, localPath, ownerID string, subdirs ...string) (string, error) {
	if ownerID == "" {
		return "", appErrors.Clone(appErrors.ErrStorage, "owner id is required for file upload")
	}
	file, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, fmt.Sprintf("local file not found: %s", localPath))
		}
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to open local file")
	}
	defer file.Close() //nolint:errcheck

	key := ObjectKey(ownerID, append(subdirs, filepath.Base(localPath))...)

	if _, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	}); err != nil {
		if _, delErr := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); delErr != nil {
			s.logger.Sugar().Warnw("failed to clean up partial object", "key", key, "error", delErr)
		}
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to upload file")
	}

	url, err := s.PresignedURL(key)
	if err != nil {
		return "", err
	}
	return url, nil
}

// Download fetches an owner-scoped object to destDir and returns the local
// path. The requested name must pass the extension allow-list and must be
// present in the remote listing for the owner.
func (s *S3Store) Download(ctx context.Context, name, ownerID, destDir string) (string, error) {
	if ownerID == "" {
		return "", appErrors.Clone(appErrors.ErrStorage, "owner id is required for file download")
	}
	if !s.ExtensionAllowed(name) {
		return "", appErrors.Clone(appErrors.ErrStorage, fmt.Sprintf("file type not allowed: %s", name))
	}

	key := ObjectKey(ownerID, name)
	exists, err := s.exists(ctx, key)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list remote files")
	}
	if !exists {
		return "", appErrors.Clone(appErrors.ErrStorage, fmt.Sprintf("file not found in storage: %s", name))
	}

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to download file")
	}
	defer out.Body.Close() //nolint:errcheck

	localPath := filepath.Join(destDir, filepath.Base(name))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to prepare download directory")
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to create local file")
	}
	defer dst.Close() //nolint:errcheck

	if _, err := io.Copy(dst, out.Body); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to write downloaded file")
	}
	return localPath, nil
}

// Delete removes an owner-scoped object. Deleting an absent object is not an
// error, so repeated deletes are safe.
func (s *S3Store) Delete(ctx context.Context, name, ownerID string) error {
	if ownerID == "" {
		return appErrors.Clone(appErrors.ErrStorage, "owner id is required for file deletion")
	}
	key := ObjectKey(ownerID, name)
	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to delete file")
	}
	return nil
}

// DeleteKey removes an object by its full key. Used for saga compensation
// where the caller already holds the key.
func (s *S3Store) DeleteKey(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to delete file")
	}
	return nil
}

// TemplateURL returns a presigned URL for the upload template. Templates are
// shared across users and never owner-scoped.
func (s *S3Store) TemplateURL() (string, error) {
	key := path.Join(s.templatePrefix, s.templateFilename)
	return s.PresignedURL(key)
}

// PresignedURL resolves a time-limited GET URL for the given key.
func (s *S3Store) PresignedURL(key string) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(s.presignTTL)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to presign url")
	}
	return url, nil
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	out, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	})
	if err != nil {
		return false, err
	}
	for _, obj := range out.Contents {
		if aws.StringValue(obj.Key) == key {
			return true, nil
		}
	}
	return false, nil
}
