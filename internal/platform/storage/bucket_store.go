package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nwbconvert/orchestrator/internal/platform/dbctx"
	"github.com/nwbconvert/orchestrator/internal/platform/gcp"
)

// BucketStore writes an upload to a local working copy for the converter,
// inspector, and nwbfile reader to operate on, then uploads that copy to
// cloud.google.com/go/storage for durability (spec §11 "Upload staging").
type BucketStore struct {
	bucket   gcp.BucketService
	workDir  string
}

func NewBucketStore(bucket gcp.BucketService, workDir string) (*BucketStore, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create work dir: %w", err)
	}
	return &BucketStore{bucket: bucket, workDir: workDir}, nil
}

func (s *BucketStore) SaveUpload(ctx context.Context, filename string, r io.Reader) (string, int64, string, error) {
	key := uuid.New().String() + "_" + filepath.Base(filename)
	localPath := filepath.Join(s.workDir, key)

	f, err := os.Create(localPath)
	if err != nil {
		return "", 0, "", fmt.Errorf("storage: create local staging file: %w", err)
	}
	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	f.Close()
	if err != nil {
		return "", 0, "", fmt.Errorf("storage: write local staging file: %w", err)
	}

	localCopy, err := os.Open(localPath)
	if err != nil {
		return "", 0, "", err
	}
	defer localCopy.Close()

	if err := s.bucket.UploadFile(dbctx.Context{Ctx: ctx}, gcp.BucketCategoryRecording, key, localCopy); err != nil {
		return "", 0, "", fmt.Errorf("storage: upload to bucket: %w", err)
	}

	return localPath, size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *BucketStore) Open(ctx context.Context, localPath string) (io.ReadCloser, error) {
	return os.Open(localPath)
}
