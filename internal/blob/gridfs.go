package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSConfig locates the GridFS bucket.
type GridFSConfig struct {
	URI      string
	Database string
	Bucket   string
}

// GridFS stores blobs in a MongoDB GridFS bucket, using the blob id as the
// GridFS file id.
type GridFS struct {
	client *mongo.Client
	bucket *gridfs.Bucket
}

// NewGridFS connects to MongoDB and verifies the connection.
func NewGridFS(ctx context.Context, cfg GridFSConfig) (*GridFS, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("gridfs connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("gridfs ping: %w", err)
	}

	bucket, err := gridfs.NewBucket(client.Database(cfg.Database), options.GridFSBucket().SetName(cfg.Bucket))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("gridfs bucket %s: %w", cfg.Bucket, err)
	}

	return &GridFS{client: client, bucket: bucket}, nil
}

func (s *GridFS) Name() string { return "gridfs" }

// Upload replaces any existing file with the same id. GridFS files are
// immutable, so the old file is deleted first.
func (s *GridFS) Upload(ctx context.Context, id, name string, data []byte) error {
	if err := s.bucket.DeleteContext(ctx, id); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("gridfs replace %s: %w", id, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.bucket.UploadFromStreamWithID(id, name, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("gridfs upload %s: %w", name, err)
	}
	return nil
}

func (s *GridFS) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := s.bucket.OpenDownloadStream(id)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("gridfs open %s: %w", id, err)
	}
	return stream, nil
}

func (s *GridFS) Delete(ctx context.Context, id string) (bool, error) {
	err := s.bucket.DeleteContext(ctx, id)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gridfs delete %s: %w", id, err)
	}
	return true, nil
}

// Close disconnects from MongoDB.
func (s *GridFS) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
