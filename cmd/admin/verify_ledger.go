package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nexuslab/dispatch/internal/ledger"
)

func main() {
	path := flag.String("ledger", "state/ledger.jsonl", "Path to the ledger JSONL file")
	flag.Parse()

	report, err := ledger.Verify(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
		os.Exit(2)
	}

	if report.OK {
		fmt.Printf("OK: %d entries, chain intact, last hash %s\n", report.Count, report.LastHash)
		return
	}

	m := report.Mismatch
	fmt.Fprintf(os.Stderr, "TAMPERED: entry %d (line %d): %s\n", m.Index, m.Line, m.Cause)
	os.Exit(1)
}
