package catalog

import (
	"strings"

	"golang.org/x/text/cases"
)

var (
	defaultExcludedTags  = []string{"NSFW", "adult", "hentai", "sex"}
	defaultExcludedWords = []string{"sex", "nude", "hentai", "adult", "nsfw"}
)

// ContentPolicy hides games carrying excluded tags, and in search results games whose
// name contains an excluded word. Matching is case-insensitive.
type ContentPolicy struct {
	excludedTags  map[string]struct{}
	excludedWords []string
}

// DefaultContentPolicy returns the built-in exclusion lists.
func DefaultContentPolicy() ContentPolicy {
	return NewContentPolicy(defaultExcludedTags, defaultExcludedWords)
}

// NewContentPolicy builds a policy from tag and word lists. Blank entries are ignored.
func NewContentPolicy(tags, words []string) ContentPolicy {
	policy := ContentPolicy{excludedTags: make(map[string]struct{}, len(tags))}
	for _, tag := range tags {
		if folded := fold(tag); folded != "" {
			policy.excludedTags[folded] = struct{}{}
		}
	}
	for _, word := range words {
		if folded := fold(word); folded != "" {
			policy.excludedWords = append(policy.excludedWords, folded)
		}
	}
	return policy
}

// Allows reports whether none of the game's tags are excluded.
func (p ContentPolicy) Allows(game Game) bool {
	for _, tag := range game.Tags {
		if _, excluded := p.excludedTags[fold(tag.Name)]; excluded {
			return false
		}
	}
	return true
}

// AllowsInSearch additionally rejects names containing an excluded word.
func (p ContentPolicy) AllowsInSearch(game Game) bool {
	if !p.Allows(game) {
		return false
	}
	name := fold(game.Name)
	for _, word := range p.excludedWords {
		if strings.Contains(name, word) {
			return false
		}
	}
	return true
}

// Filter returns the allowed games in their original order.
func (p ContentPolicy) Filter(games []Game) []Game {
	return p.filter(games, p.Allows)
}

// FilterSearch returns the games allowed in search results in their original order.
func (p ContentPolicy) FilterSearch(games []Game) []Game {
	return p.filter(games, p.AllowsInSearch)
}

func (p ContentPolicy) filter(games []Game, allow func(Game) bool) []Game {
	kept := make([]Game, 0, len(games))
	for _, game := range games {
		if allow(game) {
			kept = append(kept, game)
		}
	}
	return kept
}

// fold uses a fresh Caser per call. A Caser must not be shared between goroutines.
func fold(value string) string {
	return cases.Fold().String(strings.TrimSpace(value))
}
