// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 is the subset of minio.Client used by this tool.
//
// We define our own interface for easier testing, so we only have to fake
// those parts of the (rather big) S3 interface that we actually use.
// A fake implementation for tests is in storage_test.go.
type S3 interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// NewStorageClient sets up a client for accessing S3-compatible object
// storage. The key file contains JSON like
// {"Endpoint": "s3.example.org", "Key": "...", "Secret": "..."}.
func NewStorageClient(keypath string) (*minio.Client, error) {
	data, err := os.ReadFile(keypath)
	if err != nil {
		return nil, err
	}

	var config struct{ Endpoint, Key, Secret string }
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Key, config.Secret, ""),
		Secure: true,
	})
	if err != nil {
		return nil, err
	}

	client.SetAppInfo("QuadGridBuilder", "0.1")
	return client, nil
}

// PutInStorage stores a file in S3 storage.
func PutInStorage(ctx context.Context, file string, s3 S3, bucket string, dest string, contentType string) error {
	options := minio.PutObjectOptions{ContentType: contentType}
	_, err := s3.FPutObject(ctx, bucket, dest, file, options)
	return err
}

// Cleanup deletes old grid exports and density maps from storage,
// keeping only the most recent ones.
func Cleanup(s3 S3) error {
	for _, p := range []struct {
		prefix, pattern string
		keep            int
	}{
		{"public/quadgrid-", `public/quadgrid-\d{8}\.qgx`, 3},
		{"public/quadgrid-map-", `public/quadgrid-map-\d{8}\.png`, 3},
	} {
		if err := cleanupPath("quadgrid", p.prefix, p.pattern, p.keep, s3); err != nil {
			return err
		}
	}
	return nil
}

func cleanupPath(bucket, prefix, pattern string, keep int, s3 S3) error {
	ctx := context.Background()
	re := regexp.MustCompile(pattern)

	found := make([]string, 0, keep+10)
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	for f := range s3.ListObjects(ctx, bucket, opts) {
		if re.MatchString(f.Key) {
			found = append(found, f.Key)
		}
	}

	if len(found) > keep {
		sort.Strings(found)
		for _, path := range found[0 : len(found)-keep] {
			msg := fmt.Sprintf("Deleting from storage: %s/%s", bucket, path)
			fmt.Println(msg)
			if logger != nil {
				logger.Println(msg)
			}
			if err := s3.RemoveObject(ctx, bucket, path, minio.RemoveObjectOptions{}); err != nil {
				return err
			}
		}
	}

	return nil
}
