// Package identity derives stable, content-derived identifiers for extracted
// people and events. The keys are deterministic: re-running extraction on
// unchanged input reproduces the same identifier, so they double as upsert keys.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/hash/sha256"
)

// Validation errors surfaced to callers. Malformed-but-present input never
// fails; only a completely empty required field does.
var (
	ErrEmptyName     = errors.New("identity: person name is empty")
	ErrEmptyTitle    = errors.New("identity: event title is empty")
	ErrEmptySourceID = errors.New("identity: source entity id is empty")
)

// Normalize lowercases, collapses internal whitespace and trims the input.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// PersonKey derives the stable identifier for a person from their name and
// website. Two people with the same name but different (or absent) websites
// are distinct; a missing website degrades to an empty host rather than
// failing.
func PersonKey(name, website string) (string, error) {
	normalized := Normalize(name)
	if normalized == "" {
		return "", ErrEmptyName
	}
	host := core.HostOf(website)
	return sha256.Short([]byte(normalized + "|" + host)), nil
}

// EventKey derives the stable identifier for an event. Identity is scoped to
// the owning source entity: the same title and start across two entities
// yields two different keys.
func EventKey(sourceID, title string, start time.Time) (string, error) {
	if strings.TrimSpace(sourceID) == "" {
		return "", ErrEmptySourceID
	}
	normalized := Normalize(title)
	if normalized == "" {
		return "", ErrEmptyTitle
	}
	stamp := start.UTC().Format(time.RFC3339)
	return sha256.Short([]byte(sourceID + "|" + normalized + "|" + stamp)), nil
}

// EntityKey derives the stable identifier for a source entity from its
// normalized canonical URL.
func EntityKey(normalizedURL string) (string, error) {
	trimmed := strings.TrimSpace(normalizedURL)
	if trimmed == "" {
		return "", fmt.Errorf("identity: normalized url is empty")
	}
	return sha256.Short([]byte(trimmed)), nil
}
