package stems

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

const (
	gcsObjectPrefix = "stemflow/inputs"
	signedURLTTL    = 2 * time.Hour
)

var (
	_ Uploader = &GCSUploader{}
)

// GCSUploader stages input files in a bucket and hands out V4 signed GET URLs.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

func NewGCSUploader(ctx context.Context, bucket, credentialsFile string) (*GCSUploader, error) {
	if bucket == "" {
		return nil, errors.NotValidf("empty gcs bucket")
	}
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, errors.Annotatef(err, "service account key %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create GCS storage client")
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

// objectName keeps the session directory so inputs of different sessions never collide.
func objectName(localPath string) string {
	return path.Join(gcsObjectPrefix, filepath.Base(filepath.Dir(localPath)), filepath.Base(localPath))
}

func (u *GCSUploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.Annotatef(err, "failed to open the local file %s", localPath)
	}
	defer f.Close()

	name := objectName(localPath)
	writer := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, f); err != nil {
		_ = writer.Close()
		return "", errors.Annotatef(err, "failed to copy %s to gs://%s/%s", localPath, u.bucket, name)
	}
	if err := writer.Close(); err != nil {
		return "", errors.Annotatef(err, "failed to close GCS writer for %s", name)
	}
	log.Debugf("uploaded %s to gs://%s/%s", localPath, u.bucket, name)

	signed, err := u.client.Bucket(u.bucket).SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(signedURLTTL),
	})
	if err != nil {
		return "", errors.Annotatef(err, "sign url of gs://%s/%s", u.bucket, name)
	}
	return signed, nil
}

func (u *GCSUploader) Close() error {
	return errors.Trace(u.client.Close())
}
