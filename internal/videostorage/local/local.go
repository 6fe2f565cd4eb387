package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Storage keeps "remote" objects under a root directory on another disk or
// mount. It exists so the pipeline runs unchanged without a cloud bucket.
type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	const op = "videostorage.local.New"

	if root == "" {
		return nil, fmt.Errorf("%s: local_root is required", op)
	}

	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{root: root}, nil
}

func (s *Storage) Upload(_ context.Context, localPath, key, _ string) error {
	const op = "videostorage.local.Upload"

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer src.Close()

	dstPath := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dstPath), os.ModePerm); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	const op = "videostorage.local.Exists"

	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	const op = "videostorage.local.Delete"

	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) URL(_ context.Context, key string, _ bool, _ time.Duration) (string, error) {
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
