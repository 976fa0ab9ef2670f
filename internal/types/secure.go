package types

// redactedPlaceholder replaces secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string that refuses to print itself. String and
// MarshalJSON return a placeholder so SMTP passwords, API keys and database
// URLs never reach logs or status payloads.
//
// Use Unmask only where the plaintext is genuinely required (dialing the
// relay, building an Authorization header, opening the pool).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// GoString covers the %#v verb.
func (s SecretString) GoString() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a non-empty secret was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
