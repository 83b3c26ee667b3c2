package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioAPI is the subset of *minio.Client the store relies on.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOStore keeps blobs in an S3-compatible bucket. Object keys are
// "<category>/<owner>/<uuid>" and double as blob IDs; descriptive metadata
// travels as object user metadata.
type MinIOStore struct {
	client minioAPI
	bucket string
}

// NewMinIOStore connects to the endpoint and creates the bucket if needed.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	s := &MinIOStore{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

const (
	metaFileName  = "File-Name"
	metaOwner     = "Owner-Id"
	metaCategory  = "Category"
	metaHash      = "Sha256"
	metaCreatedBy = "Created-By"
	metaCreatedAt = "Created-At"
)

func (s *MinIOStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := readAndHash(&meta, content)
	if err != nil {
		return nil, err
	}
	meta.ID = objectKey(meta.Category, meta.OwnerID, meta.ID)

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.bucket, meta.ID, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			metaFileName:  meta.FileName,
			metaOwner:     meta.OwnerID,
			metaCategory:  meta.Category,
			metaHash:      meta.Hash,
			metaCreatedBy: meta.CreatedBy,
			metaCreatedAt: strconv.FormatInt(meta.CreatedAt.Unix(), 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", meta.ID, err)
	}
	out := meta
	return &out, nil
}

func (s *MinIOStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, translate(err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, nil, translate(err)
	}
	return obj, metadataFromInfo(info), nil
}

func (s *MinIOStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", id, err)
	}
	return nil
}

func (s *MinIOStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	return metadataFromInfo(info), nil
}

func (s *MinIOStore) ListByOwner(ctx context.Context, ownerID, category string) ([]*BlobMetadata, error) {
	categories := []string{category}
	if category == "" {
		categories = []string{CategoryClaimDocument, CategoryPolicyDocument}
	}

	var out []*BlobMetadata
	for _, cat := range categories {
		prefix := objectKey(cat, ownerID, "")
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
			}
			meta, err := s.GetMetadata(ctx, obj.Key)
			if err != nil {
				return nil, err
			}
			out = append(out, meta)
		}
	}
	return out, nil
}

func objectKey(category, owner, id string) string {
	if category == "" {
		category = "uncategorized"
	}
	if owner == "" {
		owner = "_"
	}
	if id == "" {
		return path.Join(category, owner) + "/"
	}
	return path.Join(category, owner, id)
}

func translate(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrBlobNotFound
	}
	return err
}

func metadataFromInfo(info minio.ObjectInfo) *BlobMetadata {
	meta := &BlobMetadata{
		ID:          info.Key,
		ContentType: info.ContentType,
		Size:        info.Size,
		FileName:    userMeta(info, metaFileName),
		OwnerID:     userMeta(info, metaOwner),
		Category:    userMeta(info, metaCategory),
		Hash:        userMeta(info, metaHash),
		CreatedBy:   userMeta(info, metaCreatedBy),
		CreatedAt:   info.LastModified.UTC(),
	}
	if ts, err := strconv.ParseInt(userMeta(info, metaCreatedAt), 10, 64); err == nil {
		meta.CreatedAt = time.Unix(ts, 0).UTC()
	}
	if meta.FileName == "" {
		meta.FileName = path.Base(info.Key)
	}
	return meta
}

// userMeta looks a key up in both the user-metadata map and the raw headers,
// since servers differ in how they canonicalise x-amz-meta names.
func userMeta(info minio.ObjectInfo, key string) string {
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, key) || strings.EqualFold(k, "X-Amz-Meta-"+key) {
			return v
		}
	}
	if info.Metadata != nil {
		return info.Metadata.Get("X-Amz-Meta-" + key)
	}
	return ""
}
