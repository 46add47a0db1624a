package tools

import (
	"sort"
	"strings"

	"codewright/internal/logging"
)

// =============================================================================
// Fuzzy Tool-Name Fallback
// =============================================================================
// Models misspell tool names ("bah" for "bash", "readfile" for "read_file").
// On a registry miss the matcher scores the requested name against every
// registered name and either auto-corrects, suggests, or reports unknown.
// Ambiguity is never guessed away: two close candidates suppress correction.

// MatcherConfig tunes the fallback matcher thresholds.
type MatcherConfig struct {
	// AutoCorrectThreshold is the minimum similarity for silent substitution.
	AutoCorrectThreshold float64
	// SuggestionThreshold is the minimum similarity to appear in suggestions.
	SuggestionThreshold float64
	// TieMargin is the minimum lead the top candidate needs over the
	// runner-up before auto-correction is allowed.
	TieMargin float64
	// MaxSuggestions caps the ranked suggestion list.
	MaxSuggestions int
	// MaxDescriptionLen truncates candidate descriptions, in runes.
	MaxDescriptionLen int
}

// DefaultMatcherConfig returns production thresholds. The auto-correct bar
// sits below 0.75 so a single dropped letter in a short name ("bah" for
// "bash") still resolves.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		AutoCorrectThreshold: 0.70,
		SuggestionThreshold:  0.55,
		TieMargin:            0.05,
		MaxSuggestions:       3,
		MaxDescriptionLen:    60,
	}
}

// Suggestion is one ranked fallback candidate.
type Suggestion struct {
	Name        string
	Score       float64
	Description string
}

// FallbackMatch is the outcome of resolving an unknown tool name.
type FallbackMatch struct {
	// ExactMatch is true when the requested name was registered after all
	// (case-insensitively); no correction needed.
	ExactMatch bool
	// MatchedName is the chosen tool when ExactMatch or ShouldAutoCorrect.
	MatchedName string
	// Score is the similarity of the best candidate.
	Score float64
	// Suggestions are the ranked close candidates, best first.
	Suggestions []Suggestion
	// ShouldAutoCorrect is true when exactly one candidate clears the
	// auto-correct threshold with a clear margin over the runner-up.
	ShouldAutoCorrect bool
}

// MatchTool resolves a requested name against the candidate tools.
func MatchTool(requested string, candidates []*Tool, cfg MatcherConfig) FallbackMatch {
	match := FallbackMatch{}
	if requested == "" || len(candidates) == 0 {
		return match
	}

	target := strings.ToLower(strings.TrimSpace(requested))

	scored := make([]Suggestion, 0, len(candidates))
	for _, tool := range candidates {
		name := strings.ToLower(tool.Name)
		if name == target {
			match.ExactMatch = true
			match.MatchedName = tool.Name
			match.Score = 1.0
			return match
		}
		scored = append(scored, Suggestion{
			Name:        tool.Name,
			Score:       similarity(target, name),
			Description: truncateRunes(tool.Description, cfg.MaxDescriptionLen),
		})
	}

	// Rank by score descending, name ascending for determinism.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Name < scored[j].Name
	})

	match.Score = scored[0].Score

	qualifying := 0
	for _, s := range scored {
		if s.Score >= cfg.AutoCorrectThreshold {
			qualifying++
		}
	}
	clearMargin := len(scored) == 1 || scored[0].Score-scored[1].Score >= cfg.TieMargin
	if qualifying == 1 && clearMargin {
		match.ShouldAutoCorrect = true
		match.MatchedName = scored[0].Name
		logging.ToolsDebug("Fallback auto-correct: %q -> %q (%.2f)", requested, match.MatchedName, match.Score)
	}

	for _, s := range scored {
		if s.Score < cfg.SuggestionThreshold {
			break
		}
		match.Suggestions = append(match.Suggestions, s)
		if len(match.Suggestions) >= cfg.MaxSuggestions {
			break
		}
	}

	return match
}

// similarity returns a normalized score in [0,1]: 1 is identical,
// 0 shares nothing.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if lb := len([]rune(b)); lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes edit distance with a single-row DP table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	row := make([]int, len(rb)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(rb); j++ {
			cur := row[j]
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			row[j] = minInt(row[j]+1, minInt(row[j-1]+1, prev+cost))
			prev = cur
		}
	}
	return row[len(rb)]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// truncateRunes bounds s to n runes, appending an ellipsis when cut.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
