// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package keycase converts JSON object keys between snake_case and
// camelCase. It is used only at the analytics RPC boundary: the provider
// returns rows with snake_case keys, and subscriber payloads are emitted
// with camelCase keys. Business logic never sees mixed conventions.
package keycase

import "strings"

// Camelize converts a snake_case key to camelCase.
// "artist_uri" becomes "artistUri"; "sha_256" collapses to "sha256";
// keys without underscores pass through unchanged.
func Camelize(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}

	parts := strings.Split(key, "_")
	var b strings.Builder
	b.Grow(len(key))
	wrote := false
	for _, p := range parts {
		if p == "" {
			continue
		}
		if !wrote {
			b.WriteString(p)
			wrote = true
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// Snakeize converts a camelCase key to snake_case.
// "artistUri" becomes "artist_uri"; digits stay attached to the
// preceding word ("sha256" is unchanged).
func Snakeize(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 4)
	for i, r := range key {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CamelizeValue deep-converts all map keys in v to camelCase.
// Maps and slices are rebuilt; scalar values pass through untouched.
func CamelizeValue(v any) any {
	return convert(v, Camelize)
}

// SnakeizeValue deep-converts all map keys in v to snake_case.
func SnakeizeValue(v any) any {
	return convert(v, Snakeize)
}

// CamelizeRows converts a slice of decoded JSON objects in place-for-value,
// returning a new slice with all keys camelCased at every depth.
func CamelizeRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = convertMap(row, Camelize)
	}
	return out
}

func convert(v any, rename func(string) string) any {
	switch val := v.(type) {
	case map[string]any:
		return convertMap(val, rename)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convert(item, rename)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertMap(item, rename)
		}
		return out
	default:
		return v
	}
}

func convertMap(m map[string]any, rename func(string) string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[rename(k)] = convert(v, rename)
	}
	return out
}
