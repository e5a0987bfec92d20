// Package exports uploads rendered manual files to S3-compatible storage and
// hands out time-limited download links.
package exports

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultLinkTTL = 15 * time.Minute

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	LinkTTL   time.Duration
}

// Object describes an uploaded export.
type Object struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	URL         string    `json:"url,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
}

type Store struct {
	client  *minio.Client
	bucket  string
	linkTTL time.Duration
}

// New connects to the endpoint and creates the bucket when missing.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	ttl := opts.LinkTTL
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}
	return &Store{client: client, bucket: opts.Bucket, linkTTL: ttl}, nil
}

// ObjectKey places exports under the manual and version they were rendered from.
func ObjectKey(manualID string, version int, filename string) string {
	name := strings.TrimSpace(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		name = "manual"
	}
	return path.Join("manuals", manualID, "v"+strconv.Itoa(version), name)
}

// Upload stores data and returns the object with a presigned download URL.
func (s *Store) Upload(ctx context.Context, manualID string, version int, filename, contentType string, data []byte) (Object, error) {
	key := ObjectKey(manualID, version, filename)
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"manual-id":      manualID,
			"manual-version": strconv.Itoa(version),
		},
	})
	if err != nil {
		return Object{}, fmt.Errorf("upload %s: %w", key, err)
	}

	obj := Object{Bucket: s.bucket, Key: key, Size: info.Size, ContentType: contentType}
	link, expires, err := s.presign(ctx, key, filename)
	if err != nil {
		return obj, err
	}
	obj.URL = link
	obj.ExpiresAt = expires
	return obj, nil
}

// Link presigns an existing export.
func (s *Store) Link(ctx context.Context, manualID string, version int, filename string) (Object, error) {
	key := ObjectKey(manualID, version, filename)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("stat %s: %w", key, err)
	}
	link, expires, err := s.presign(ctx, key, filename)
	if err != nil {
		return Object{}, err
	}
	return Object{Bucket: s.bucket, Key: key, Size: info.Size, ContentType: info.ContentType, URL: link, ExpiresAt: expires}, nil
}

func (s *Store) presign(ctx context.Context, key, filename string) (string, time.Time, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(filename)))
	expires := time.Now().Add(s.linkTTL)
	link, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.linkTTL, params)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return link.String(), expires, nil
}
