package config

import (
	"fmt"
	"sort"
	"strings"
)

// Config keys are dot-separated paths into the JSON document, such as
// "agent.run_timeout_seconds" or "auth.client_secret".

// secretLeaves are key segments whose values are never printed in full. A
// segment also matches when it ends in "_" followed by one of these.
var secretLeaves = []string{"secret", "password", "api_key"}

// IsSecretKey reports whether the value stored under key must be masked.
func IsSecretKey(key string) bool {
	leaf := key[strings.LastIndexByte(key, '.')+1:]
	for _, s := range secretLeaves {
		if leaf == s || strings.HasSuffix(leaf, "_"+s) {
			return true
		}
	}
	return false
}

// Flatten turns a decoded config document into dot-keyed leaves. Empty
// objects contribute no keys.
func Flatten(doc map[string]any) map[string]any {
	flat := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			key := joinKey(prefix, k)
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			flat[key] = v
		}
	}
	walk("", doc)
	return flat
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

// Unflatten rebuilds the nested document from dot-keyed leaves. A key that
// is both a leaf and the parent of another key, like "agent" next to
// "agent.url", is an error.
func Unflatten(flat map[string]any) (map[string]any, error) {
	doc := make(map[string]any)
	for _, key := range SortedKeys(flat) {
		parts := strings.Split(key, ".")
		node := doc
		for i, part := range parts[:len(parts)-1] {
			switch next := node[part].(type) {
			case nil:
				child := make(map[string]any)
				node[part] = child
				node = child
			case map[string]any:
				node = next
			default:
				return nil, fmt.Errorf("config key %s conflicts with %s", key, strings.Join(parts[:i+1], "."))
			}
		}
		leaf := parts[len(parts)-1]
		if _, ok := node[leaf].(map[string]any); ok {
			return nil, fmt.Errorf("config key %s has nested keys", key)
		}
		node[leaf] = flat[key]
	}
	return doc, nil
}

// SortedKeys returns the keys of flat in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskSecrets copies flat, replacing non-empty secret strings with "***"
// plus their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			v = "***" + s[max(0, len(s)-4):]
		}
		out[k] = v
	}
	return out
}
