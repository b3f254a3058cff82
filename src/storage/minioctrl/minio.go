package minioctrl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docqa/src/core/rag"
	"docqa/src/fsutil"
)

const DefaultBucket = "docqa-snapshots"

// objectClient is the part of *minio.Client the store uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// Store publishes snapshot directories under "{requestID}/" and downloads them back.
type Store struct {
	client objectClient
	bucket string
	log    logr.Logger
}

func NewStore(cfg Config, logger logr.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %v", err)
	}

	return newStore(client, cfg.Bucket, logger), nil
}

func newStore(client objectClient, bucket string, logger logr.Logger) *Store {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Store{
		client: client,
		bucket: bucket,
		log:    logger.WithName("minio"),
	}
}

func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &rag.StorageError{Op: "check bucket", Key: s.bucket, Err: err}
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return &rag.StorageError{Op: "create bucket", Key: s.bucket, Err: err}
		}
		s.log.Info("created bucket", "bucket", s.bucket)
	}

	return nil
}

// Publish uploads every file under localDir to "{requestID}/{relative path}" and returns the
// object keys. A failed upload removes the objects this call created; keys that already existed
// under the prefix are left in place. After a successful upload, objects under the prefix that
// are not part of localDir are deleted, so publishing the same directory twice leaves the same
// object set.
func (s *Store) Publish(ctx context.Context, requestID, localDir string) ([]string, error) {
	if requestID == "" || strings.Contains(requestID, "/") {
		return nil, fmt.Errorf("%w: invalid request id %q", rag.ErrInvalidRequest, requestID)
	}

	files, err := fsutil.ListFiles(localDir)
	if err != nil {
		return nil, &rag.StorageError{Op: "publish", Key: requestID, Err: fmt.Errorf("failed to list %s: %w", localDir, err)}
	}
	if len(files) == 0 {
		return nil, &rag.StorageError{Op: "publish", Key: requestID, Err: fmt.Errorf("no files in %s", localDir)}
	}

	existing, err := s.list(ctx, requestID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, k := range existing {
		seen[k] = struct{}{}
	}

	keys := make([]string, 0, len(files))
	var created []string
	for _, rel := range files {
		key := requestID + "/" + rel
		_, err := s.client.FPutObject(ctx, s.bucket, key, filepath.Join(localDir, filepath.FromSlash(rel)), minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		if err != nil {
			s.rollback(created)
			return nil, &rag.StorageError{Op: "publish", Key: key, Err: err}
		}
		keys = append(keys, key)
		if _, ok := seen[key]; !ok {
			created = append(created, key)
		}
		s.log.V(1).Info("uploaded object", "bucket", s.bucket, "key", key)
	}

	if err := s.prune(ctx, requestID, keys); err != nil {
		return nil, err
	}

	return keys, nil
}

// rollback runs on its own context so a cancelled publish still cleans up.
func (s *Store) rollback(keys []string) {
	ctx := context.Background()
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			s.log.Error(err, "failed to roll back object", "bucket", s.bucket, "key", key)
		}
	}
}

// Unpublish removes every object under "{requestID}/". It runs on its own context so a cancelled
// run still cleans up.
func (s *Store) Unpublish(ctx context.Context, requestID string) error {
	if requestID == "" || strings.Contains(requestID, "/") {
		return fmt.Errorf("%w: invalid request id %q", rag.ErrInvalidRequest, requestID)
	}
	ctx = context.WithoutCancel(ctx)

	keys, err := s.list(ctx, requestID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return &rag.StorageError{Op: "unpublish", Key: key, Err: err}
		}
	}
	s.log.Info("unpublished snapshot", "bucket", s.bucket, "request_id", requestID, "objects", len(keys))
	return nil
}

func (s *Store) prune(ctx context.Context, requestID string, keep []string) error {
	wanted := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		wanted[k] = struct{}{}
	}

	remote, err := s.list(ctx, requestID)
	if err != nil {
		return err
	}
	for _, key := range remote {
		if _, ok := wanted[key]; ok {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return &rag.StorageError{Op: "prune", Key: key, Err: err}
		}
		s.log.V(1).Info("removed stale object", "bucket", s.bucket, "key", key)
	}
	return nil
}

func (s *Store) list(ctx context.Context, requestID string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    requestID + "/",
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, &rag.StorageError{Op: "list", Key: requestID, Err: obj.Err}
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Objects lists the object keys of a published snapshot.
func (s *Store) Objects(ctx context.Context, requestID string) ([]string, error) {
	return s.list(ctx, requestID)
}

// Load downloads one object to localPath, replacing any existing file.
func (s *Store) Load(ctx context.Context, remoteKey, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return &rag.StorageError{Op: "load", Key: remoteKey, Err: err}
	}
	if err := s.client.FGetObject(ctx, s.bucket, remoteKey, localPath, minio.GetObjectOptions{}); err != nil {
		return &rag.StorageError{Op: "load", Key: remoteKey, Err: err}
	}
	return nil
}

// LoadSnapshot downloads every object of a snapshot into localDir, keeping relative paths.
func (s *Store) LoadSnapshot(ctx context.Context, requestID, localDir string) ([]string, error) {
	keys, err := s.list(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no objects under %s/", rag.ErrSnapshotNotFound, requestID)
	}

	files := make([]string, 0, len(keys))
	for _, key := range keys {
		path, err := fsutil.WithinDir(localDir, strings.TrimPrefix(key, requestID+"/"))
		if err != nil {
			return nil, &rag.StorageError{Op: "load", Key: key, Err: err}
		}
		if err := s.Load(ctx, key, path); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	return files, nil
}
