package s3storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/ChunkDrop/internal/config"
)

// Storage wraps MinIO/S3 interactions. The high level client serves single
// shot object calls while Core exposes the raw multipart primitives.
type Storage struct {
	client        *minio.Client
	core          *minio.Core
	region        string
	publicURLBase string
	ensured       sync.Map
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Part is one part recorded by the store for a multipart upload.
type Part struct {
	Number int
	ETag   string
	Size   int64
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:        client,
		core:          &minio.Core{Client: client},
		region:        cfg.S3Region,
		publicURLBase: cfg.PublicURLBase,
	}, nil
}

// BucketExists reports whether bucket exists.
func (s *Storage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, wrap("bucket exists", bucket, "", err)
	}
	return exists, nil
}

// CreateBucket creates bucket in the configured region.
func (s *Storage) CreateBucket(ctx context.Context, bucket string) error {
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return wrap("make bucket", bucket, "", err)
	}
	return nil
}

// EnsureBucket makes sure bucket exists before use. Successful checks are
// remembered for the lifetime of the process.
func (s *Storage) EnsureBucket(ctx context.Context, bucket string) error {
	if _, ok := s.ensured.Load(bucket); ok {
		return nil
	}
	exists, err := s.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.CreateBucket(ctx, bucket); err != nil {
			// A concurrent creator may have won the race.
			if resp := minio.ToErrorResponse(unwrapMinio(err)); resp.Code != "BucketAlreadyOwnedByYou" {
				return err
			}
		}
	}
	s.ensured.Store(bucket, struct{}{})
	return nil
}

// PutObject uploads a whole object in one call and returns its ETag.
func (s *Storage) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (string, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	info, err := s.client.PutObject(ctx, bucket, key, reader, size, opts)
	if err != nil {
		return "", wrap("put object", bucket, key, err)
	}
	return info.ETag, nil
}

// GetObject opens an object for reading. Callers must close the reader.
func (s *Storage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrap("get object", bucket, key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, wrap("get object", bucket, key, err)
	}
	return obj, nil
}

// ListObjects returns every object below prefix.
func (s *Storage) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, wrap("list objects", bucket, prefix, obj.Err)
		}
		out = append(out, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

// DeleteObject removes a single object.
func (s *Storage) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return wrap("remove object", bucket, key, err)
	}
	return nil
}

// CopyObject copies srcBucket/srcKey to dstBucket/dstKey server side.
func (s *Storage) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	if err != nil {
		return wrap("copy object", dstBucket, dstKey, err)
	}
	return nil
}

// PresignedURL returns a signed GET URL valid for ttl.
func (s *Storage) PresignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	if err != nil {
		return "", wrap("presign object", bucket, key, err)
	}
	return u.String(), nil
}

// ObjectURL returns the direct (unsigned) URL of an object, or the templated
// public URL when a public base is configured.
func (s *Storage) ObjectURL(bucket, key string) string {
	base := s.publicURLBase
	if base == "" {
		base = strings.TrimRight(s.client.EndpointURL().String(), "/")
	}
	return base + "/" + bucket + "/" + escapeKey(key)
}

// InitiateMultipart starts a multipart upload and returns the store's upload id.
func (s *Storage) InitiateMultipart(ctx context.Context, bucket, key, contentType string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", wrap("initiate multipart", bucket, key, err)
	}
	return uploadID, nil
}

// UploadPart sends one part. Re-sending a part number replaces the earlier
// bytes for that number.
func (s *Storage) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (string, error) {
	part, err := s.core.PutObjectPart(ctx, bucket, key, uploadID, partNumber, reader, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", wrap(fmt.Sprintf("upload part %d", partNumber), bucket, key, err)
	}
	return part.ETag, nil
}

// ListParts returns the parts the store has recorded, ordered by number.
func (s *Storage) ListParts(ctx context.Context, bucket, key, uploadID string) ([]Part, error) {
	var (
		parts  []Part
		marker int
	)
	for {
		res, err := s.core.ListObjectParts(ctx, bucket, key, uploadID, marker, 1000)
		if err != nil {
			return nil, wrap("list parts", bucket, key, err)
		}
		for _, p := range res.ObjectParts {
			parts = append(parts, Part{Number: p.PartNumber, ETag: p.ETag, Size: p.Size})
		}
		if !res.IsTruncated {
			break
		}
		marker = res.NextPartNumberMarker
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts, nil
}

// CompleteMultipart reconciles the upload from the store's own part listing
// rather than a caller supplied list, then completes it.
func (s *Storage) CompleteMultipart(ctx context.Context, bucket, key, uploadID string) (string, error) {
	parts, err := s.ListParts(ctx, bucket, key, uploadID)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", &Error{Op: "complete multipart", Bucket: bucket, Key: key, Code: "InvalidPart", Err: fmt.Errorf("no parts recorded for upload %s", uploadID)}
	}
	completed := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, minio.CompletePart{PartNumber: p.Number, ETag: p.ETag})
	}
	info, err := s.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return "", wrap("complete multipart", bucket, key, err)
	}
	return info.ETag, nil
}

// AbortMultipart discards an upload and the parts recorded for it.
func (s *Storage) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	if err := s.core.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		return wrap("abort multipart", bucket, key, err)
	}
	return nil
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
