package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileSource reads tokens from the local filesystem
type FileSource struct{}

// Read returns the file contents unchanged
func (FileSource) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", &ErrNotFound{Ref: path}, err)
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return data, nil
}
