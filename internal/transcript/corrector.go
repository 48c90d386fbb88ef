// Package transcript applies learned user corrections to decoded text
// before it leaves the pipeline. Corrections come from a YAML file the user
// edits (or the daemon appends to); each entry either matches exactly or
// phonetically, so habitual misrecognitions like "get hub" → "GitHub" heal
// automatically.
package transcript

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxd/internal/transcript/phonetic"
)

// MatchType selects how a correction's original text is matched.
type MatchType string

const (
	// MatchExact replaces case-insensitive exact occurrences.
	MatchExact MatchType = "exact"

	// MatchPhonetic replaces words that sound like the original.
	MatchPhonetic MatchType = "phonetic"
)

// Correction is one learned replacement rule.
type Correction struct {
	// Original is the misrecognized text as the recognizer produces it.
	Original string `yaml:"original"`

	// Corrected is the text the user actually wants.
	Corrected string `yaml:"corrected"`

	// Match defaults to exact.
	Match MatchType `yaml:"match,omitempty"`
}

// correctionsFile is the on-disk YAML layout.
type correctionsFile struct {
	Corrections []Correction `yaml:"corrections"`
}

// Corrector holds the active rule set. Apply may be called concurrently
// with Load; the rule tables swap atomically.
type Corrector struct {
	matcher *phonetic.Matcher

	mu            sync.RWMutex
	exactWords    map[string]string
	exactPhrases  []Correction // sorted longest-first
	phoneticRules []Correction
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithMatcher overrides the phonetic matcher, e.g. to tune thresholds.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) { c.matcher = m }
}

// NewCorrector builds an empty corrector; call Load to populate it.
func NewCorrector(opts ...Option) *Corrector {
	c := &Corrector{
		matcher:    phonetic.New(),
		exactWords: map[string]string{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load reads the corrections file at path and swaps in the new rule set.
// A missing file is not an error: it clears the rules, matching a user who
// deleted their corrections. Unknown YAML keys are rejected so typos in the
// file surface immediately.
func (c *Corrector) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		c.install(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("transcript: read corrections %s: %w", path, err)
	}

	var file correctionsFile
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("transcript: parse corrections %s: %w", path, err)
	}
	c.install(file.Corrections)
	return nil
}

// SetRules replaces the rule set directly. Intended for tests and for
// callers that manage persistence themselves.
func (c *Corrector) SetRules(rules []Correction) {
	c.install(rules)
}

func (c *Corrector) install(rules []Correction) {
	exactWords := map[string]string{}
	var exactPhrases, phoneticRules []Correction

	for _, r := range rules {
		orig := strings.TrimSpace(r.Original)
		if orig == "" || r.Corrected == "" {
			continue
		}
		r.Original = orig
		switch r.Match {
		case MatchPhonetic:
			phoneticRules = append(phoneticRules, r)
		default:
			if strings.ContainsRune(orig, ' ') {
				exactPhrases = append(exactPhrases, r)
			} else {
				exactWords[strings.ToLower(orig)] = r.Corrected
			}
		}
	}
	// Longest phrases first so "pull request review" beats "pull request".
	sort.SliceStable(exactPhrases, func(i, j int) bool {
		return len(exactPhrases[i].Original) > len(exactPhrases[j].Original)
	})

	c.mu.Lock()
	c.exactWords = exactWords
	c.exactPhrases = exactPhrases
	c.phoneticRules = phoneticRules
	c.mu.Unlock()
}

// RuleCount returns the number of active rules.
func (c *Corrector) RuleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exactWords) + len(c.exactPhrases) + len(c.phoneticRules)
}

// Apply rewrites text through the rule set: exact phrases first (longest
// wins), then per-word exact lookups, then phonetic matching for words no
// exact rule touched. Unmatched text passes through untouched.
func (c *Corrector) Apply(text string) string {
	if text == "" {
		return text
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.exactWords) == 0 && len(c.exactPhrases) == 0 && len(c.phoneticRules) == 0 {
		return text
	}

	for _, r := range c.exactPhrases {
		text = replaceFold(text, r.Original, r.Corrected)
	}

	var phoneticOriginals []string
	for _, r := range c.phoneticRules {
		phoneticOriginals = append(phoneticOriginals, r.Original)
	}

	words := strings.Fields(text)
	changed := false
	for i, w := range words {
		core, prefix, suffix := stripPunct(w)
		if core == "" {
			continue
		}
		if repl, ok := c.exactWords[strings.ToLower(core)]; ok {
			words[i] = prefix + matchCase(core, repl) + suffix
			changed = true
			continue
		}
		if len(phoneticOriginals) == 0 {
			continue
		}
		if match, _, ok := c.matcher.Match(core, phoneticOriginals); ok {
			for _, r := range c.phoneticRules {
				if r.Original == match {
					words[i] = prefix + matchCase(core, r.Corrected) + suffix
					changed = true
					break
				}
			}
		}
	}
	if changed {
		return strings.Join(words, " ")
	}
	return text
}

// replaceFold replaces every case-insensitive occurrence of old in s.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	lower := strings.ToLower(s)
	oldLower := strings.ToLower(old)
	if len(lower) != len(s) || len(oldLower) != len(old) {
		// Case folding changed byte offsets; match case-sensitively.
		return strings.ReplaceAll(s, old, new)
	}
	var sb strings.Builder
	for {
		idx := strings.Index(lower, oldLower)
		if idx < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		sb.WriteString(s[:idx])
		sb.WriteString(new)
		s = s[idx+len(old):]
		lower = lower[idx+len(oldLower):]
	}
}

// stripPunct splits leading and trailing punctuation off a word token.
func stripPunct(w string) (core, prefix, suffix string) {
	start := 0
	for start < len(w) && !isWordRune(rune(w[start])) {
		start++
	}
	end := len(w)
	for end > start && !isWordRune(rune(w[end-1])) {
		end--
	}
	return w[start:end], w[:start], w[end:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// matchCase carries a leading capital from the input over to the
// replacement, so sentence-initial words stay capitalized.
func matchCase(input, repl string) string {
	if input == "" || repl == "" {
		return repl
	}
	r := []rune(input)
	if unicode.IsUpper(r[0]) {
		out := []rune(repl)
		out[0] = unicode.ToUpper(out[0])
		return string(out)
	}
	return repl
}
