package types

import (
	"encoding/json"
	"fmt"
	"testing"
)

const testSecret = "smtp-password-12345"

func TestSecretString_NeverPrints(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v", "%+v", "%#v"} {
		out := fmt.Sprintf(verb, s)
		if out != redactedPlaceholder {
			t.Errorf("Sprintf(%q) = %q, want placeholder", verb, out)
		}
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	payload := struct {
		Password SecretString `json:"password"`
	}{Password: SecretString(testSecret)}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"password":"***REDACTED***"}` {
		t.Errorf("Marshal = %s", data)
	}
}

func TestSecretString_UnmaskAndIsSet(t *testing.T) {
	if SecretString("").IsSet() {
		t.Error("empty secret reported as set")
	}
	s := SecretString(testSecret)
	if !s.IsSet() || s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q", s.Unmask())
	}
}
