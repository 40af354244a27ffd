// Package ledger appends provider attempts and triage outcomes to a
// hash-chained JSONL file. Each record's hash covers the previous record's
// hash, so any rewrite of history is detectable without a database log.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// GenesisHash roots every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event kinds recorded by the dispatch layer.
const (
	EventAttempt = "attempt"
	EventSuccess = "success"
	EventFailure = "failure"
	EventReject  = "reject"
	EventTriage  = "triage"
)

// Entry is one ledger record. Cost and token counts are nil for events
// that carry none (rejects, triage decisions).
type Entry struct {
	TS          string   `json:"ts"`
	EventKind   string   `json:"event_kind"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	CostUSD     *float64 `json:"cost_usd,omitempty"`
	TokensIn    *int     `json:"tokens_in,omitempty"`
	TokensOut   *int     `json:"tokens_out,omitempty"`
	Extra       map[string]any
	PrevHash    string `json:"prev_hash"`
	Hash        string `json:"hash"`
}

// Ledger appends entries to one JSONL file. A sidecar file holds only the
// latest hash so appends never re-read the log.
type Ledger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New creates a ledger writing to path.
func New(path string) *Ledger {
	return &Ledger{path: path, now: time.Now}
}

func sidecarPath(path string) string {
	return path + ".chain"
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// canonical serializes an event map deterministically: encoding/json sorts
// map keys, and we strip the hash field before hashing.
func canonical(ev map[string]any) (string, error) {
	m := make(map[string]any, len(ev))
	for k, v := range ev {
		if k == "hash" {
			continue
		}
		m[k] = v
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize ledger event: %w", err)
	}
	return string(data), nil
}

func (l *Ledger) readLastHash() string {
	data, err := os.ReadFile(sidecarPath(l.path))
	if err != nil {
		return GenesisHash
	}
	h := strings.TrimSpace(string(data))
	if len(h) != 64 {
		return GenesisHash
	}
	return h
}

func (l *Ledger) writeLastHash(h string) error {
	if err := os.WriteFile(sidecarPath(l.path), []byte(h), 0o644); err != nil {
		return fmt.Errorf("failed to write chain sidecar: %w", err)
	}
	return nil
}

// Append records an entry, linking it into the chain. Fields whose key
// mentions a key or token are redacted before the event is hashed.
func (l *Ledger) Append(e Entry) error {
	ev := map[string]any{
		"ts":         l.now().UTC().Format(time.RFC3339),
		"event_kind": e.EventKind,
	}
	if e.TS != "" {
		ev["ts"] = e.TS
	}
	if e.Provider != "" {
		ev["provider"] = e.Provider
	}
	if e.Model != "" {
		ev["model"] = e.Model
	}
	if e.Fingerprint != "" {
		ev["fingerprint"] = e.Fingerprint
	}
	if e.CostUSD != nil {
		ev["cost_usd"] = *e.CostUSD
	}
	if e.TokensIn != nil {
		ev["tokens_in"] = *e.TokensIn
	}
	if e.TokensOut != nil {
		ev["tokens_out"] = *e.TokensOut
	}
	for k, v := range e.Extra {
		ev[k] = v
	}
	redact(ev)

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create ledger dir: %w", err)
		}
	}

	prev := l.readLastHash()
	ev["prev_hash"] = prev

	payload, err := canonical(ev)
	if err != nil {
		return err
	}
	ev["hash"] = sha256Hex(prev + "\n" + payload)

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return l.writeLastHash(ev["hash"].(string))
}

// redact masks values whose key looks like a credential.
func redact(ev map[string]any) {
	for k := range ev {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") && lk != "event_kind" || strings.Contains(lk, "token") {
			switch lk {
			case "tokens_in", "tokens_out":
			default:
				ev[k] = "***redacted***"
			}
		}
	}
}
