// Package credential defines the boundary to the external credential
// subsystem. This layer never persists secrets; it resolves them per call.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Credential is a resolved provider secret.
type Credential struct {
	APIKey      string
	KeyID       string
	Fingerprint string
}

// Resolver resolves a secret of the given kind (provider name) for a
// tenant. The second return is false when no credential exists; an error
// means the lookup itself failed.
type Resolver interface {
	Resolve(ctx context.Context, orgID, projectID, kind string) (Credential, bool, error)
}

// EnvResolver resolves credentials from process environment variables of
// the form {KIND}_API_KEY (e.g. OPENAI_API_KEY). Tenant scoping is ignored;
// it serves single-tenant deployments and tests.
type EnvResolver struct{}

// Resolve looks up {KIND}_API_KEY.
func (EnvResolver) Resolve(_ context.Context, _, _ string, kind string) (Credential, bool, error) {
	key := strings.TrimSpace(os.Getenv(fmt.Sprintf("%s_API_KEY", strings.ToUpper(kind))))
	if key == "" {
		return Credential{}, false, nil
	}
	return Credential{
		APIKey:      key,
		KeyID:       fmt.Sprintf("env:%s", strings.ToLower(kind)),
		Fingerprint: KeyFingerprint(key),
	}, true, nil
}

// KeyFingerprint is a short non-reversible identifier for a key, safe to
// log and ledger.
func KeyFingerprint(apiKey string) string {
	h := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:])[:16]
}

// StaticResolver serves a fixed key map, for tests.
type StaticResolver map[string]string

// Resolve returns the configured key for kind.
func (r StaticResolver) Resolve(_ context.Context, _, _ string, kind string) (Credential, bool, error) {
	key, ok := r[strings.ToLower(kind)]
	if !ok || key == "" {
		return Credential{}, false, nil
	}
	return Credential{APIKey: key, KeyID: "static", Fingerprint: KeyFingerprint(key)}, true, nil
}
