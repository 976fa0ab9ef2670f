package config

import "context"

// SecretProvider resolves secret values referenced by the environment. The
// keys are provider-specific identifiers; the file provider treats them as
// paths.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext for every key it could
	// resolve. Unresolvable keys are omitted, not reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
