// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// extraction_cache_dump inspects the assistant's extraction reply cache.
//
// The cache persists model replies for the slot-extraction fallback in
// BadgerDB between service restarts, keyed by a SHA-256 of the question.
// This tool opens the cache read-only and prints a human-readable summary:
// keys, sizes, the intent each cached reply parses to, and a short sample
// of the raw reply.
//
// Usage:
//
//	extraction_cache_dump [--path /path/to/extraction/cache]
//
// If --path is not given, reads EXTRACTION_CACHE_DIR from the environment,
// falling back to ~/.finamchat/cache/extraction/.
//
// Exit codes:
//
//	0 — success (including "empty cache" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/extract"
)

// extractionKeyPrefix must match the fallback extractor's cache keys exactly.
const extractionKeyPrefix = "extract:"

func main() {
	pathFlag := flag.String("path", "", "Path to extraction BadgerDB directory (overrides EXTRACTION_CACHE_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("EXTRACTION_CACHE_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".finamchat", "cache", "extraction")
	}

	fmt.Printf("Extraction cache path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. The service has not cached any model replies yet.")
		fmt.Println("Run the assistant with OPENROUTER_API_KEY set to populate the cache.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	type entry struct {
		questionHash string
		reply        string
		intent       string
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(extractionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			var e entry
			e.questionHash = strings.TrimPrefix(key, extractionKeyPrefix)

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value for %s: %w", key, err)
			}
			e.reply = string(raw)
			e.intent = parseIntent(e.reply)

			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo extraction cache entries found.")
		fmt.Println("The fallback extractor has not been exercised yet, or the model was unavailable.")
		os.Exit(0)
	}

	fmt.Printf("\nFound %d extraction cache entr%s:\n", len(entries), plural(len(entries), "y", "ies"))
	fmt.Println(strings.Repeat("─", 80))

	for i, e := range entries {
		fmt.Printf("\n[%d] Question hash: %s\n", i+1, e.questionHash)
		fmt.Printf("    Reply size:    %s\n", formatBytes(len(e.reply)))
		if e.intent != "" {
			fmt.Printf("    Intent:        %s\n", e.intent)
		} else {
			fmt.Printf("    Intent:        (reply did not parse as a JSON object)\n")
		}
		fmt.Printf("    Sample:        %s\n", formatSample(e.reply, 120))
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d entr%s, cache path: %s\n",
		len(entries), plural(len(entries), "y", "ies"), dbPath)
}

// parseIntent extracts the intent field from a cached model reply, using the
// same JSON-object recovery the fallback extractor applies.
func parseIntent(reply string) string {
	payload, ok := extract.ExtractJSONObject(reply)
	if !ok {
		return ""
	}
	var obj struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return ""
	}
	return obj.Intent
}

// formatSample returns the first n bytes of a reply on a single line.
func formatSample(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + " ..."
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "extraction_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
