/*
cache.go - Cache contract and key scheme

PURPOSE:
  Memoizes calculator outputs keyed by (group, period[, user]) with a
  bounded TTL per data class. The cache is strictly an optimization: a
  miss or a full flush changes latency, never results.

INVALIDATION:
  Push-based. Every ledger or period writer invalidates the affected
  group's keys before reporting success; TTL expiry is only the backstop
  for writers the engine doesn't see. Invalidation is idempotent.

KEY SCHEME:
  msphere:{group}                               group prefix
  msphere:{group}:{period}:{kind}               period-scoped entry
  msphere:{group}:{period}:{user}:{kind}        user-scoped entry

IMPLEMENTATIONS:
  - cache.Memory: in-process map with expiry (tests/dev)
  - cache.Redis: go-redis backed, for multi-process deployments
*/
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TTL classes per data class.
const (
	// TTLDashboard bounds staleness of live, active-period reads.
	TTLDashboard = 2 * time.Minute

	// TTLHistorical applies to ended/archived periods, which only change
	// through explicit lifecycle mutations (which invalidate anyway).
	TTLHistorical = time.Hour
)

// Cache stores serialized calculator outputs. Implementations must be
// safe for concurrent use.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeleteByPrefix removes every key with the prefix. Deleting an
	// absent prefix is not an error.
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// =============================================================================
// KEY BUILDER
// =============================================================================

const keyNamespace = "msphere"

// GroupKeyPrefix is the invalidation prefix covering everything cached
// for a group. The trailing separator keeps "g1" from sweeping "g1x".
func GroupKeyPrefix(groupID GroupID) string {
	return fmt.Sprintf("%s:%s:", keyNamespace, groupID)
}

// PeriodKey names a period-scoped cache entry.
func PeriodKey(groupID GroupID, periodID PeriodID, kind string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyNamespace, groupID, periodID, kind)
}

// UserKey names a user-scoped cache entry.
func UserKey(groupID GroupID, periodID PeriodID, userID UserID, kind string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", keyNamespace, groupID, periodID, userID, kind)
}

// PeriodKeyPrefix covers all entries for one period, user-scoped ones
// included.
func PeriodKeyPrefix(groupID GroupID, periodID PeriodID) string {
	return fmt.Sprintf("%s:%s:%s:", keyNamespace, groupID, periodID)
}

// TTLFor picks the TTL class for a period.
func TTLFor(p *Period) time.Duration {
	if p != nil && p.Status != PeriodActive {
		return TTLHistorical
	}
	return TTLDashboard
}

// =============================================================================
// INVALIDATOR - The entry point ledger writers call
// =============================================================================

// Invalidator is what writers call after any write to meals, guest
// meals, expenses, transactions, payments, or periods.
type Invalidator struct {
	Cache Cache
}

// Group drops every cached entry for the group.
func (inv Invalidator) Group(ctx context.Context, groupID GroupID) error {
	if inv.Cache == nil {
		return nil
	}
	return inv.Cache.DeleteByPrefix(ctx, GroupKeyPrefix(groupID))
}

// Period drops every cached entry for one period.
func (inv Invalidator) Period(ctx context.Context, groupID GroupID, periodID PeriodID) error {
	if inv.Cache == nil {
		return nil
	}
	return inv.Cache.DeleteByPrefix(ctx, PeriodKeyPrefix(groupID, periodID))
}

// ValidateKeyPart guards against callers smuggling separators into key
// components.
func ValidateKeyPart(part string) error {
	if strings.Contains(part, ":") {
		return &ValidationError{Field: "key", Reason: "must not contain ':'"}
	}
	return nil
}
