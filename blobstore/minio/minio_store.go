package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/pagedb/blobstore"
)

const contentType = "application/octet-stream"

// errAborted closes the upload pipe of an aborted writer.
var errAborted = errors.New("minio: upload aborted")

// Store keeps blobs as objects of one bucket under a key prefix.
type Store struct {
	client   *minio.Client
	bucket   string
	prefix   string
	partSize uint64
}

// Option configures a Store.
type Option func(*Store)

// WithPartSize sets the multipart chunk size of streamed uploads. Zero lets
// the client pick one.
func WithPartSize(n uint64) Option {
	return func(s *Store) { s.partSize = n }
}

// NewStore returns a Store on bucket. prefix is prepended to every blob name
// (e.g. "designs/").
func NewStore(client *minio.Client, bucket, prefix string, opts ...Option) *Store {
	s := &Store{client: client, bucket: bucket, prefix: prefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *Store) putOptions() minio.PutObjectOptions {
	return minio.PutObjectOptions{ContentType: contentType, PartSize: s.partSize}
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// Open stats the object and returns a handle issuing ranged GETs.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if isNotFound(err) {
		return nil, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &object{store: s, key: key, size: info.Size}, nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), s.putOptions())
	return err
}

// Create starts a streaming upload of unknown size. The object appears when
// the writer is closed.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	w := &uploader{pw: pw, cancel: cancel, result: make(chan error, 1)}

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(name), pr, -1, s.putOptions())
		_ = pr.CloseWithError(err)
		w.result <- err
	}()
	return w, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns the names below prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	root := strings.TrimSuffix(s.prefix, "/")
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	})

	var names []string
	for obj := range objects {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, root), "/"); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// object is an opened blob. Reads are clipped to size.
type object struct {
	store *Store
	key   string
	size  int64
}

func (o *object) Size() int64  { return o.size }
func (o *object) Close() error { return nil }

// get fetches the inclusive byte range [first, last].
func (o *object) get(ctx context.Context, first, last int64) (*minio.Object, error) {
	var opts minio.GetObjectOptions
	if err := opts.SetRange(first, last); err != nil {
		return nil, err
	}
	return o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
}

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 || off >= o.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), o.size-off)

	r, err := o.get(ctx, off, off+want-1)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err := io.ReadFull(r, p[:want])
	if err == nil && want < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

func (o *object) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off > o.size || (off == o.size && length > 0) {
		return nil, io.EOF
	}
	if length <= 0 || off == o.size {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	r, err := o.get(ctx, off, min(off+length, o.size)-1)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// uploader feeds a background PutObject through a pipe.
type uploader struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	result chan error
	once   sync.Once
}

func (w *uploader) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *uploader) Sync() error { return nil }

// Close finishes the upload and waits for the object to be stored.
func (w *uploader) Close() error {
	err := os.ErrClosed
	w.once.Do(func() {
		defer w.cancel()
		if err = w.pw.Close(); err == nil {
			err = <-w.result
		}
	})
	return err
}

// Abort cancels the upload. No object is created.
func (w *uploader) Abort() error {
	w.once.Do(func() {
		w.cancel()
		_ = w.pw.CloseWithError(errAborted)
		<-w.result
	})
	return nil
}
