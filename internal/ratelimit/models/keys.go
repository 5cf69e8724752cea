package models

import "strings"

const keyPrefix = "rl:unsubscribe:"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so an identity containing ':' cannot address a neighbouring bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewIdentityKey builds the bucket key for a client identity.
func NewIdentityKey(identity string) string {
	return keyPrefix + SanitizeKeySegment(identity)
}
