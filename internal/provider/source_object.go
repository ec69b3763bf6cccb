package provider

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// objectSource pulls asset bytes from an S3-compatible object store bucket.
type objectSource struct {
	client      *minio.Client
	bucket      string
	keyTemplate string
}

func newObjectSource(options map[string]string, client *minio.Client) (*objectSource, error) {
	if client == nil {
		return nil, errors.New("object store client not configured")
	}
	bucket := options["bucket"]
	if bucket == "" {
		return nil, errors.New("object-store provider requires a bucket option")
	}
	keyTemplate := options["key_template"]
	if keyTemplate == "" {
		keyTemplate = "{dataset}/{parameter}/{date}_b{band}.grid"
	}
	return &objectSource{client: client, bucket: bucket, keyTemplate: keyTemplate}, nil
}

func (s *objectSource) Name() string { return SourceObjectStore }

func (s *objectSource) Fetch(ctx context.Context, key Key) ([]byte, error) {
	objectKey := expandKeyTemplate(s.keyTemplate, key)

	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", s.bucket, objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", s.bucket, objectKey, err)
	}
	return data, nil
}
