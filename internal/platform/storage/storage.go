// Package storage is the upload-staging abstraction spec §6's
// POST /api/upload needs before format detection can run: local-disk by
// default for single-box deployments, with an optional bucket-backed
// implementation wrapping the teacher's gcp.BucketService (spec §11).
// External collaborators (converter, inspector, nwbfile reader) all need a
// real filesystem path, so even the bucket-backed Store always materializes
// a local copy for them to operate on.
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
)

// Store stages an uploaded recording to a local path and, for
// bucket-backed implementations, also to durable object storage (spec §11
// "Upload staging").
type Store interface {
	SaveUpload(ctx context.Context, filename string, r io.Reader) (localPath string, size int64, checksum string, err error)
	Open(ctx context.Context, localPath string) (io.ReadCloser, error)
}

// LocalStore writes uploads directly under a base directory. This is the
// default for single-box deployments (spec §11).
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create base dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) SaveUpload(ctx context.Context, filename string, r io.Reader) (string, int64, string, error) {
	dest := filepath.Join(s.baseDir, uuid.New().String()+"_"+filepath.Base(filename))
	f, err := os.Create(dest)
	if err != nil {
		return "", 0, "", fmt.Errorf("storage: create upload file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		return "", 0, "", fmt.Errorf("storage: write upload file: %w", err)
	}

	return dest, size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *LocalStore) Open(ctx context.Context, localPath string) (io.ReadCloser, error) {
	return os.Open(localPath)
}
