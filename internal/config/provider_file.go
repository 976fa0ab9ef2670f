package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// FileSecretProvider implements SecretProvider by reading mounted secret files
// (Docker secrets, Kubernetes secret volumes). Trailing newlines are trimmed.
type FileSecretProvider struct {
	readFile func(name string) ([]byte, error)
}

// NewFileSecretProvider creates a FileSecretProvider backed by the OS filesystem.
func NewFileSecretProvider() *FileSecretProvider {
	return &FileSecretProvider{readFile: os.ReadFile}
}

// GetParametersBatch reads each path. Missing files are omitted so the loader
// can report them by variable name; any other read error aborts.
func (p *FileSecretProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, path := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := p.readFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading secret file %s: %w", path, err)
		}
		result[path] = strings.TrimRight(string(data), "\r\n")
	}
	return result, nil
}
