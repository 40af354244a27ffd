package ledger

import (
	"bufio"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Mismatch describes the first broken record found by Verify.
type Mismatch struct {
	Index int // zero-based entry index
	Line  int // one-based file line
	Cause string
}

// Report summarizes a chain verification walk.
type Report struct {
	OK       bool
	Count    int
	LastHash string
	Mismatch *Mismatch
}

// Verify walks the chain at path, recomputing each hash, and reports the
// first mismatching entry. It stops at the first break; everything after a
// rewrite is suspect anyway.
func Verify(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	rep := Report{OK: true, LastHash: GenesisHash}
	idx := 0
	lineNo := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev map[string]any
		if err := json.Unmarshal(line, &ev); err != nil {
			rep.OK = false
			rep.Mismatch = &Mismatch{Index: idx, Line: lineNo, Cause: fmt.Sprintf("json parse: %v", err)}
			return rep, nil
		}

		prev, _ := ev["prev_hash"].(string)
		h, _ := ev["hash"].(string)
		if len(prev) != 64 || len(h) != 64 {
			rep.OK = false
			rep.Mismatch = &Mismatch{Index: idx, Line: lineNo, Cause: "missing hash fields"}
			return rep, nil
		}
		if prev != rep.LastHash {
			rep.OK = false
			rep.Mismatch = &Mismatch{Index: idx, Line: lineNo, Cause: "prev_hash mismatch"}
			return rep, nil
		}

		payload, err := canonical(ev)
		if err != nil {
			rep.OK = false
			rep.Mismatch = &Mismatch{Index: idx, Line: lineNo, Cause: fmt.Sprintf("canonicalize: %v", err)}
			return rep, nil
		}
		expected := sha256Hex(prev + "\n" + payload)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(h)) != 1 {
			rep.OK = false
			rep.Mismatch = &Mismatch{Index: idx, Line: lineNo, Cause: "hash mismatch"}
			return rep, nil
		}

		rep.LastHash = h
		rep.Count++
		idx++
	}
	if err := scanner.Err(); err != nil {
		return Report{}, fmt.Errorf("failed to read ledger: %w", err)
	}

	// An attacker who rewrites an entry and relinks every later hash
	// produces a self-consistent chain; the sidecar head betrays it.
	if side, err := os.ReadFile(sidecarPath(path)); err == nil {
		want := strings.TrimSpace(string(side))
		if len(want) == 64 && want != rep.LastHash {
			last := rep.Count - 1
			if last < 0 {
				last = 0
			}
			rep.OK = false
			rep.Mismatch = &Mismatch{Index: last, Line: lineNo, Cause: "chain tail does not match sidecar"}
		}
	}
	return rep, nil
}
