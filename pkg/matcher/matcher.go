// Package matcher ranks catalog definitions against a free-text task
// description and the names of the attachments the caller supplied. Matching
// is pure and deterministic: the same catalog snapshot and inputs always
// produce the same ranked outcome. When no candidate is clearly ahead the
// matcher returns a small disambiguation set instead of guessing.
package matcher

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/skillgate/skillgate/pkg/catalog"
	"github.com/skillgate/skillgate/pkg/definition"
)

// Config holds the scoring weights and resolution thresholds. The zero value
// is not usable; start from DefaultConfig.
type Config struct {
	// ExactWeight is awarded when the whole task text or its first token
	// equals one of the definition's invocation names.
	ExactWeight int
	// TokenWeight is awarded when an invocation name appears as a standalone
	// token somewhere in the task text.
	TokenWeight int
	// KeywordWeight is the maximum keyword-overlap contribution; it is scaled
	// by the fraction of the definition's keywords found in the task text.
	KeywordWeight int
	// AttachmentBonus is awarded per required-input name the caller already
	// attached, signalling they have the right materials in hand.
	AttachmentBonus int
	// Floor is the minimum score a candidate needs to be considered at all.
	Floor int
	// Margin is the lead the top candidate needs over the runner-up to
	// auto-resolve instead of asking for disambiguation.
	Margin int
	// TopK bounds the size of a disambiguation set.
	TopK int
}

// DefaultConfig returns the stock weights. The floor and margin are tuning
// parameters, not observed constants; they are deliberately conservative so
// a wrong silent guess stays rarer than a disambiguation question.
func DefaultConfig() Config {
	return Config{
		ExactWeight:     100,
		TokenWeight:     40,
		KeywordWeight:   50,
		AttachmentBonus: 15,
		Floor:           10,
		Margin:          25,
		TopK:            3,
	}
}

// Validate checks the config for values that would break resolution.
func (c Config) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("matcher top-k must be at least 1, got %d", c.TopK)
	}
	if c.Floor < 0 {
		return fmt.Errorf("matcher floor must not be negative, got %d", c.Floor)
	}
	if c.Margin < 0 {
		return fmt.Errorf("matcher margin must not be negative, got %d", c.Margin)
	}
	return nil
}

// Decision says how a match call resolved.
type Decision string

const (
	// Resolved means a single definition was selected.
	Resolved Decision = "resolved"
	// Ambiguous means several definitions scored too close together; the
	// caller should pick from the candidate set.
	Ambiguous Decision = "ambiguous"
	// NoMatch means nothing cleared the confidence floor.
	NoMatch Decision = "no_match"
)

// Candidate is one ranked definition with its fitness score.
type Candidate struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	Exact       bool   `json:"exact,omitempty"`
}

// Outcome is the result of one match call.
type Outcome struct {
	Decision Decision
	// Best is the selected definition when Decision is Resolved.
	Best *definition.Definition
	// Candidates is the ranked, floor-cleared list, capped at TopK. It is
	// the disambiguation set when Decision is Ambiguous.
	Candidates []Candidate
	// BestScore is the highest raw score seen, including candidates that
	// fell below the floor. Used for no-match diagnostics.
	BestScore int
}

// NoMatchError reports that no definition cleared the confidence floor.
type NoMatchError struct {
	Floor     int
	BestScore int
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no matching definition: best score %d is below the confidence floor %d", e.BestScore, e.Floor)
}

// Matcher scores and resolves definitions. Safe for concurrent use.
type Matcher struct {
	cfg Config
}

// New creates a matcher with the given config.
func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// Match ranks every definition in the catalog against the task text and
// attachment names and resolves per policy: a single exact-invocation hit
// short-circuits; otherwise the top candidate wins only with a clear margin
// over the runner-up, and close calls become a disambiguation set.
func (m *Matcher) Match(cat *catalog.Catalog, taskText string, attachmentNames []string) Outcome {
	task := newTaskSignals(taskText)

	attached := make(map[string]bool, len(attachmentNames))
	for _, name := range attachmentNames {
		attached[name] = true
	}

	type scored struct {
		def   *definition.Definition
		score int
		exact bool
	}

	var ranked []scored
	best := 0
	// Definitions() is id-ordered, which keeps scoring order (and therefore
	// the stable sort below) deterministic across calls.
	for _, def := range cat.Definitions() {
		score, exact := m.score(cat, def, task, attached)
		if score > best {
			best = score
		}
		if score < m.cfg.Floor {
			continue
		}
		ranked = append(ranked, scored{def: def, score: score, exact: exact})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].def.ID < ranked[j].def.ID
	})

	out := Outcome{BestScore: best}
	for i, s := range ranked {
		if i >= m.cfg.TopK {
			break
		}
		out.Candidates = append(out.Candidates, Candidate{
			ID:          s.def.ID,
			Description: s.def.Description,
			Score:       s.score,
			Exact:       s.exact,
		})
	}

	if len(ranked) == 0 {
		out.Decision = NoMatch
		return out
	}

	// A lone exact-invocation candidate wins outright: the caller named the
	// definition, so keyword noise from other definitions must not force a
	// disambiguation round trip.
	var exactHit *definition.Definition
	exactCount := 0
	for _, s := range ranked {
		if s.exact {
			exactCount++
			exactHit = s.def
		}
	}
	if exactCount == 1 {
		out.Decision = Resolved
		out.Best = exactHit
		return out
	}

	if len(ranked) == 1 || ranked[0].score-ranked[1].score >= m.cfg.Margin {
		out.Decision = Resolved
		out.Best = ranked[0].def
		return out
	}

	out.Decision = Ambiguous
	return out
}

// score computes one definition's fitness. Exact and token invocation hits do
// not stack; the strongest invocation signal wins.
func (m *Matcher) score(cat *catalog.Catalog, def *definition.Definition, task taskSignals, attached map[string]bool) (int, bool) {
	score := 0
	exact := false

	invocation := 0
	for _, name := range def.Triggers.Invocations {
		norm := normalizeInvocation(name)
		if norm == "" {
			continue
		}
		if norm == task.whole || norm == task.first {
			invocation = m.cfg.ExactWeight
			exact = true
			break
		}
		if task.hasPhrase(norm) && invocation < m.cfg.TokenWeight {
			invocation = m.cfg.TokenWeight
		}
	}
	score += invocation

	if keywords := effectiveKeywords(cat, def); len(keywords) > 0 {
		matched := 0
		for _, kw := range keywords {
			if task.hasPhrase(kw) {
				matched++
			}
		}
		score += matched * m.cfg.KeywordWeight / len(keywords)
	}

	for _, slot := range def.Inputs.Required {
		if attached[slot.Name] {
			score += m.cfg.AttachmentBonus
		}
	}

	return score, exact
}

// effectiveKeywords is the declared keyword set, or the significant words of
// the description when the author declared none.
func effectiveKeywords(cat *catalog.Catalog, def *definition.Definition) []string {
	if kws := cat.Keywords(def.ID); len(kws) > 0 {
		return kws
	}
	return significantWords(def.Description)
}

// taskSignals precomputes the normalized views of the task text used by
// every per-definition score.
type taskSignals struct {
	whole  string
	first  string
	tokens map[string]bool
	joined string
}

func newTaskSignals(taskText string) taskSignals {
	trimmed := strings.ToLower(strings.TrimSpace(taskText))

	first := ""
	if fields := strings.Fields(trimmed); len(fields) > 0 {
		first = strings.TrimPrefix(fields[0], "/")
	}

	tokens := tokenize(taskText)
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}

	return taskSignals{
		whole:  strings.TrimPrefix(trimmed, "/"),
		first:  first,
		tokens: set,
		joined: strings.Join(tokens, " "),
	}
}

// hasPhrase reports whether a keyword or invocation name occurs in the task
// text: single words by token lookup, multi-word phrases by substring match
// over the token-joined text so punctuation does not block a hit.
func (t taskSignals) hasPhrase(phrase string) bool {
	words := tokenize(phrase)
	switch len(words) {
	case 0:
		return false
	case 1:
		return t.tokens[words[0]]
	}
	return strings.Contains(" "+t.joined+" ", " "+strings.Join(words, " ")+" ")
}

func normalizeInvocation(name string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "/")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "then": true, "this": true,
	"to": true, "was": true, "with": true,
}

// significantWords extracts the deduplicated non-stopword tokens of a
// description, the fallback keyword set for definitions that declare none.
func significantWords(description string) []string {
	var words []string
	seen := make(map[string]bool)
	for _, tok := range tokenize(description) {
		if len(tok) < 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		words = append(words, tok)
	}
	return words
}
