// Package fingerprint derives the deduplication key for error events.
package fingerprint

import (
	"crypto/sha256"
	"fmt"

	"github.com/kiranshivaraju/errhub/pkg/models"
)

// DefaultMaxLength is the number of characters a truncated fingerprint keeps.
const DefaultMaxLength = 255

// MaxLength caps maxLen so a fingerprint of 4-byte runes still fits a btree
// index entry.
const MaxLength = 512

// Mode selects how a fingerprint is derived from message and source.
type Mode string

const (
	// ModeTruncate concatenates message and source and keeps the first maxLen
	// characters. Long errors sharing a prefix merge into one record.
	ModeTruncate Mode = "truncate"
	// ModeSHA256 hashes the full message and source.
	ModeSHA256 Mode = "sha256"
)

// Generator computes fingerprints. It is immutable and safe for concurrent use.
type Generator struct {
	mode   Mode
	maxLen int
}

// New returns a Generator for the given mode. A maxLen <= 0 means DefaultMaxLength.
func New(mode Mode, maxLen int) (*Generator, error) {
	if mode == "" {
		mode = ModeTruncate
	}
	if mode != ModeTruncate && mode != ModeSHA256 {
		return nil, fmt.Errorf("unknown fingerprint mode %q: must be one of truncate, sha256", mode)
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if maxLen > MaxLength {
		return nil, fmt.Errorf("fingerprint max length %d exceeds %d", maxLen, MaxLength)
	}
	return &Generator{mode: mode, maxLen: maxLen}, nil
}

// Mode returns the configured mode.
func (g *Generator) Mode() Mode { return g.mode }

// Fingerprint returns the dedup key for e. Only Message and Source are considered.
func (g *Generator) Fingerprint(e *models.ErrorEvent) string {
	if g.mode == ModeSHA256 {
		return Hashed(e.Message, e.Source)
	}
	return Truncated(e.Message, e.Source, g.maxLen)
}

// Truncated concatenates message and source and cuts the result to maxLen runes.
// Empty inputs yield the empty fingerprint.
func Truncated(message, source string, maxLen int) string {
	return truncateRunes(message+source, maxLen)
}

// Hashed returns the hex SHA-256 of message and source, separated by a NUL so
// that ("ab", "c") and ("a", "bc") differ. Empty inputs yield the empty fingerprint.
func Hashed(message, source string) string {
	if message == "" && source == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(message + "\x00" + source))
	return fmt.Sprintf("%x", sum)
}

func truncateRunes(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i]
		}
		n++
	}
	return s
}
