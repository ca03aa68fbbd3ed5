package database

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes for store-generated identifiers.
const (
	PrefixCase   = "case_"
	PrefixAppeal = "appeal_"
	PrefixQueue  = "queue_"
	PrefixAudit  = "audit_"
)

// NewID returns prefix followed by 12 hex characters of a random UUID.
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + hex[:12]
}

// Listing limits applied by every store.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ClampLimit maps a requested page size into [1, MaxLimit], defaulting to DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
