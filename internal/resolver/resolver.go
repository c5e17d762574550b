// Package resolver matches raw user text against the choice set a
// session is currently offering. It is pure and deterministic: fixed
// input and options always produce the same match.
package resolver

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
)

// Strategy labels which matching rule produced a result, for logging
// and metrics.
type Strategy string

const (
	StrategyExact     Strategy = "exact"
	StrategyOrdinal   Strategy = "ordinal"
	StrategySubstring Strategy = "substring"
	StrategyBinary    Strategy = "binary"
	StrategyFallback  Strategy = "fallback"
)

// Match is a resolved selection.
type Match struct {
	Handle   string
	Index    int
	Label    string
	Strategy Strategy
}

// Config carries the language-specific word sets and the fallback policy.
type Config struct {
	// AffirmativeWords and NegativeWords drive the binary yes/no
	// heuristic on two-option choice sets.
	AffirmativeWords []string
	NegativeWords    []string

	// ListFallback enables defaulting to the first option when nothing
	// matched on a small list selection. Deliberate but debatable
	// policy inherited from the source system; keep it toggleable.
	ListFallback bool

	// ListFallbackMax bounds how large a list still qualifies for the
	// fallback. Zero means the default of 5.
	ListFallbackMax int
}

// DefaultConfig returns the stock word sets (Spanish plus English) with
// the list fallback enabled.
func DefaultConfig() Config {
	return Config{
		AffirmativeWords: []string{"sí", "si", "yes", "claro", "ok", "dale", "bueno", "sure", "yeah"},
		NegativeWords:    []string{"no", "nope", "nunca", "jamás", "jamas", "negativo"},
		ListFallback:     true,
		ListFallbackMax:  5,
	}
}

// Resolver applies the ordered matching strategies.
type Resolver struct {
	cfg    Config
	logger *slog.Logger
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for low-confidence fallback matches.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver. Zero-valued word sets fall back to the defaults.
func New(cfg Config, opts ...Option) *Resolver {
	if len(cfg.AffirmativeWords) == 0 {
		cfg.AffirmativeWords = DefaultConfig().AffirmativeWords
	}
	if len(cfg.NegativeWords) == 0 {
		cfg.NegativeWords = DefaultConfig().NegativeWords
	}
	if cfg.ListFallbackMax <= 0 {
		cfg.ListFallbackMax = 5
	}
	r := &Resolver{
		cfg:    cfg,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve matches raw input against the offered options. isList marks a
// list-type selection (the first-option fallback never applies to
// buttons). The second return is false when the input is not an answer
// to the pending choice; the caller decides whether to re-prompt.
func (r *Resolver) Resolve(raw string, options []domain.Option, isList bool) (Match, bool) {
	input := strings.TrimSpace(raw)
	if input == "" || len(options) == 0 {
		return Match{}, false
	}

	// 1. Exact match on label or value.
	for i, opt := range options {
		if strings.EqualFold(input, opt.Label) || (opt.Value != "" && strings.EqualFold(input, opt.Value)) {
			return r.match(options, i, StrategyExact), true
		}
	}

	// 2. Ordinal match, 1-based ("type a number").
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(options) {
			return r.match(options, n-1, StrategyOrdinal), true
		}
	}

	// 3. Substring match, either direction, first option wins.
	lower := strings.ToLower(input)
	for i, opt := range options {
		if containsEither(lower, strings.ToLower(opt.Label)) ||
			(opt.Value != "" && containsEither(lower, strings.ToLower(opt.Value))) {
			return r.match(options, i, StrategySubstring), true
		}
	}

	// 4. Binary yes/no heuristic, two-option sets only.
	if len(options) == 2 {
		affirm := hasWordFrom(lower, r.cfg.AffirmativeWords)
		negate := hasWordFrom(lower, r.cfg.NegativeWords)
		if affirm != negate {
			if affirm {
				return r.match(options, r.preferWordMatch(options, r.cfg.AffirmativeWords, 0), StrategyBinary), true
			}
			return r.match(options, r.preferWordMatch(options, r.cfg.NegativeWords, 1), StrategyBinary), true
		}
	}

	// 5. Small-list fallback to the first option.
	if isList && r.cfg.ListFallback && len(options) <= r.cfg.ListFallbackMax {
		r.logger.Warn("low confidence selection fallback",
			"input", input,
			"option", options[0].Label,
			"options_count", len(options),
		)
		return r.match(options, 0, StrategyFallback), true
	}

	return Match{}, false
}

func (r *Resolver) match(options []domain.Option, index int, strategy Strategy) Match {
	opt := options[index]
	handle := opt.Handle
	if handle == "" {
		handle = domain.DefaultHandle(index)
	}
	return Match{
		Handle:   handle,
		Index:    index,
		Label:    opt.Label,
		Strategy: strategy,
	}
}

// preferWordMatch picks the option whose own label matches a word from
// the set, defaulting to the given index when neither label does.
func (r *Resolver) preferWordMatch(options []domain.Option, words []string, fallback int) int {
	for i, opt := range options {
		if hasWordFrom(strings.ToLower(opt.Label), words) {
			return i
		}
	}
	return fallback
}

func containsEither(a, b string) bool {
	if b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// hasWordFrom reports whether any whitespace-separated token of the
// input equals a word from the set.
func hasWordFrom(lower string, words []string) bool {
	for _, token := range strings.Fields(lower) {
		token = strings.Trim(token, ".,!?¡¿")
		for _, w := range words {
			if strings.EqualFold(token, w) {
				return true
			}
		}
	}
	return false
}
