package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"foodstr/models"
)

// Config holds the curated keyword lists and thresholds. The thresholds are
// tuning constants; see the feed config for where they come from.
type Config struct {
	StrongHashtags []string
	HardWords      []string
	SoftWords      []string
	HardThreshold  int
	SoftThreshold  int
	SpamHashtagCap int
}

// Classifier decides whether a note is food related. All patterns are
// compiled once in New; a Classifier is immutable after construction and
// safe for concurrent use.
type Classifier struct {
	cfg Config

	rootVeto   *regexp.Regexp
	strongTags *regexp.Regexp
	hard       []*regexp.Regexp
	soft       []*regexp.Regexp
	macroVeto  *regexp.Regexp
	hashtag    *regexp.Regexp
}

// The "excluding food and energy" macroeconomics idiom must never count
// toward the soft threshold.
var macroPattern = `(?i)\bexclud(?:e|es|ed|ing)\s+food\s+and\s+energy\b`

func New(cfg Config) (*Classifier, error) {
	if cfg.HardThreshold <= 0 {
		cfg.HardThreshold = 1
	}
	if cfg.SoftThreshold <= 0 {
		cfg.SoftThreshold = 2
	}
	if cfg.SpamHashtagCap <= 0 {
		cfg.SpamHashtagCap = 5
	}

	c := &Classifier{cfg: cfg}

	var err error
	if c.rootVeto, err = regexp.Compile(`(?i)\broot\b`); err != nil {
		return nil, err
	}
	if c.macroVeto, err = regexp.Compile(macroPattern); err != nil {
		return nil, err
	}
	if c.hashtag, err = regexp.Compile(`#\w+`); err != nil {
		return nil, err
	}

	if len(cfg.StrongHashtags) > 0 {
		tags := lo.Map(cfg.StrongHashtags, func(tag string, _ int) string {
			return regexp.QuoteMeta(strings.ToLower(tag))
		})
		pattern := fmt.Sprintf(`(?i)#(?:%s)\b`, strings.Join(tags, "|"))
		if c.strongTags, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("compiling strong hashtag pattern: %w", err)
		}
	}

	if c.hard, err = compileTerms(cfg.HardWords); err != nil {
		return nil, fmt.Errorf("compiling hard terms: %w", err)
	}
	if c.soft, err = compileTerms(cfg.SoftWords); err != nil {
		return nil, fmt.Errorf("compiling soft terms: %w", err)
	}

	return c, nil
}

// compileTerms turns each term into a word-boundary pattern. Multi-word
// phrases require the words adjacent, separated by arbitrary whitespace.
func compileTerms(terms []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(strings.ToLower(term))
		if term == "" {
			continue
		}
		words := lo.Map(strings.Fields(term), func(w string, _ int) string {
			return regexp.QuoteMeta(w)
		})
		pattern := fmt.Sprintf(`(?i)\b%s\b`, strings.Join(words, `\s+`))
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", term, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// Normalize collapses all whitespace runs, including newlines, to single
// spaces and trims the result.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Classify reports whether the text is food related. Deterministic: the same
// text always yields the same verdict. Precedence order is root veto, strong
// hashtag, hard count, soft count with the macro idiom discounted, reject.
func (c *Classifier) Classify(text string) bool {
	text = Normalize(text)
	if text == "" {
		return false
	}

	// Standalone "root" is a reply-thread artifact, not content. Checked
	// before anything else and never overridden.
	if c.rootVeto.MatchString(text) {
		return false
	}

	if c.strongTags != nil && c.strongTags.MatchString(text) {
		return true
	}

	if countMatches(c.hard, text) >= c.cfg.HardThreshold {
		return true
	}

	// Soft matches sitting inside a macro idiom occurrence are part of the
	// idiom, not a food signal, and do not count toward the threshold.
	idioms := c.macroVeto.FindAllStringIndex(text, -1)
	soft := 0
	for _, re := range c.soft {
		for _, span := range re.FindAllStringIndex(text, -1) {
			if insideAny(span, idioms) {
				continue
			}
			soft++
		}
	}

	return soft >= c.cfg.SoftThreshold
}

// insideAny reports whether span falls wholly inside one of the spans.
func insideAny(span []int, spans [][]int) bool {
	for _, s := range spans {
		if span[0] >= s[0] && span[1] <= s[1] {
			return true
		}
	}
	return false
}

// ClassifyNote applies Classify to the note body.
func (c *Classifier) ClassifyNote(note models.Note) bool {
	return c.Classify(note.Text)
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	count := 0
	for _, re := range patterns {
		count += len(re.FindAllString(text, -1))
	}
	return count
}

// HashtagCount counts hashtags in text-body form plus structural "t" tag
// form and returns the larger of the two.
func (c *Classifier) HashtagCount(text string, tags [][]string) int {
	inText := len(c.hashtag.FindAllString(Normalize(text), -1))
	inTags := lo.CountBy(tags, func(tag []string) bool {
		return len(tag) >= 2 && tag[0] == "t"
	})
	if inTags > inText {
		return inTags
	}
	return inText
}

// IsSpam flags notes exceeding the hashtag cap. Independent of the food
// verdict and applied after it.
func (c *Classifier) IsSpam(note models.Note) bool {
	return c.HashtagCount(note.Text, note.Tags) > c.cfg.SpamHashtagCap
}
