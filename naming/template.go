// Package naming renders temp channel display names from creator templates.
//
// Supported placeholders:
//   - {user}: the owner's display name, or the unclaimed placeholder.
//   - {activity}: activities of connected members, shortest first.
//   - {count}: the channel's sequence number among its siblings.
//
// Rendering is pure and safe for concurrent use.
package naming

import (
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	PlaceholderUser     = "{user}"
	PlaceholderActivity = "{activity}"
	PlaceholderCount    = "{count}"

	// MaxLength is the longest name ever returned by Render, in runes.
	MaxLength = 95
	ellipsis  = "..."
)

// Input is the live context a template is rendered against.
type Input struct {
	// Owner is the owner's display name; empty means the channel is unclaimed.
	Owner string
	// Activities are activity names of connected members in encounter order.
	Activities []string
	Sequence   int
}

// Engine holds the fallback texts used when a placeholder has no value.
type Engine struct {
	Unclaimed  string
	NoActivity string
}

// Default is the engine used by the package level Render.
var Default = Engine{Unclaimed: "Unclaimed", NoActivity: "General"}

// Render renders tmpl with the Default engine.
func Render(tmpl string, in Input) string { return Default.Render(tmpl, in) }

// Render substitutes every placeholder in tmpl and truncates the result to MaxLength.
func (e Engine) Render(tmpl string, in Input) string {
	owner := in.Owner
	if owner == "" {
		owner = e.Unclaimed
	}
	activity := JoinActivities(in.Activities)
	if activity == "" {
		activity = e.NoActivity
	}
	r := strings.NewReplacer(
		PlaceholderUser, owner,
		PlaceholderActivity, activity,
		PlaceholderCount, strconv.Itoa(in.Sequence),
	)
	return Truncate(r.Replace(tmpl), MaxLength)
}

// JoinActivities deduplicates names case-insensitively (first spelling wins),
// orders them by length with ties kept in encounter order, and joins them with ", ".
func JoinActivities(names []string) string {
	seen := make(map[string]struct{}, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		k := strings.ToLower(n)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, n)
	}
	slices.SortStableFunc(uniq, func(a, b string) int {
		return utf8.RuneCountInString(a) - utf8.RuneCountInString(b)
	})
	return strings.Join(uniq, ", ")
}

// Truncate shortens s to at most max runes, ending it with an ellipsis when cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max - utf8.RuneCountInString(ellipsis)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:keep]), " ") + ellipsis
}

// UsesCount reports whether tmpl consumes the sequence number.
func UsesCount(tmpl string) bool { return strings.Contains(tmpl, PlaceholderCount) }

// UsesUser reports whether tmpl depends on the owner.
func UsesUser(tmpl string) bool { return strings.Contains(tmpl, PlaceholderUser) }

// UsesActivity reports whether tmpl depends on member activities.
func UsesActivity(tmpl string) bool { return strings.Contains(tmpl, PlaceholderActivity) }
