// Package files uploads the files behind document array entries and returns their url.
package files

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

var ErrEmptyID = errors.New("file id is empty")

// Uploader stores a file under id and returns the url to put in the document entry.
type Uploader interface {
	Upload(ctx context.Context, id, contentType string, r io.Reader) (string, error)
}

// FileID turns a client supplied id (often an email or a file name) into a storage id:
// the first "@" becomes "_" and the first "." is dropped.
func FileID(id string) string {
	id = strings.Replace(strings.TrimSpace(id), "@", "_", 1)
	return strings.Replace(id, ".", "", 1)
}

// MemoryUploader keeps files in memory. Urls have the form memory://<id>.
type MemoryUploader struct {
	mu    sync.RWMutex
	files map[string]File
}

type File struct {
	ContentType string
	Data        []byte
}

var _ Uploader = (*MemoryUploader)(nil)

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{files: make(map[string]File)}
}

func (u *MemoryUploader) Upload(_ context.Context, id, contentType string, r io.Reader) (string, error) {
	fid := FileID(id)
	if fid == "" {
		return "", ErrEmptyID
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", errors.Wrap(err, "reading upload")
	}
	u.mu.Lock()
	u.files[fid] = File{ContentType: contentType, Data: buf.Bytes()}
	u.mu.Unlock()
	return "memory://" + fid, nil
}

// File returns an uploaded file by storage id.
func (u *MemoryUploader) File(id string) (File, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	f, ok := u.files[id]
	return f, ok
}

// GCSUploader writes files to a Cloud Storage bucket.
type GCSUploader struct {
	client  *storage.Client
	bucket  string
	prefix  string // eg "documents/"
	baseURL string // eg "https://storage.googleapis.com"
}

var _ Uploader = (*GCSUploader)(nil)

// NewGCSUploader uses the application default credentials.
func NewGCSUploader(ctx context.Context, bucket, prefix, baseURL string) (*GCSUploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS client")
	}
	return &GCSUploader{client: client, bucket: bucket, prefix: prefix, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// URL returns the public url of the object stored under storage id fid.
func (u *GCSUploader) URL(fid string) string {
	return u.baseURL + "/" + u.bucket + "/" + (&url.URL{Path: u.prefix + fid}).EscapedPath()
}

func (u *GCSUploader) Upload(ctx context.Context, id, contentType string, r io.Reader) (string, error) {
	fid := FileID(id)
	if fid == "" {
		return "", ErrEmptyID
	}
	w := u.client.Bucket(u.bucket).Object(u.prefix + fid).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", errors.Wrap(err, "gcs write failed")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "gcs close failed")
	}
	return u.URL(fid), nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}
