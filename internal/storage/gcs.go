package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// GCS stores the blob as one JSON object in a Cloud Storage bucket.
type GCS struct {
	client     *gcs.Client
	bucketName string
	objectName string
}

// OpenGCS takes a "bucket" or "bucket/prefix" location.
func OpenGCS(ctx context.Context, location string) (*GCS, error) {
	bucket, prefix, err := splitGCSLocation(location)
	if err != nil {
		return nil, err
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &GCS{
		client:     client,
		bucketName: bucket,
		objectName: prefix + BlobName + ".json",
	}, nil
}

func splitGCSLocation(location string) (bucket, prefix string, err error) {
	location = strings.TrimPrefix(location, "gs://")
	bucket, prefix, _ = strings.Cut(location, "/")
	if bucket == "" {
		return "", "", errors.New("gcs: bucket name is required")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}

func (g *GCS) Load(ctx context.Context) ([]byte, error) {
	reader, err := g.client.Bucket(g.bucketName).Object(g.objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening object reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading object data: %w", err)
	}
	return data, nil
}

func (g *GCS) Save(ctx context.Context, data []byte) error {
	writer := g.client.Bucket(g.bucketName).Object(g.objectName).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("writing object data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing object writer: %w", err)
	}
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
