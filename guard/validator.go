// Package guard rejects ungrounded or malformed entities and applies the
// confidence threshold. Everything here is pure and safe for concurrent use.
package guard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/brunobiangulo/goecl/graph"
)

// MinWordLength is the shortest name token that counts toward grounding.
const MinWordLength = 3

// DefaultStoplist holds generic category words that say nothing about
// whether a name came from the document.
var DefaultStoplist = []string{
	"the", "and", "for", "with", "from",
	"contract", "equipment", "risk", "opportunity", "tower", "company",
	"financial", "medication", "diagnosis", "patient", "doctor",
}

// DefaultAllowNegative lists numeric property keys that may legitimately be
// below zero.
var DefaultAllowNegative = []string{"outstanding_amount", "overdue", "loss", "deficit"}

// Validation is the outcome of checking one entity.
type Validation struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons"`
}

// Validator holds the word lists used by Validate. The zero value has empty
// lists; use NewValidator or DefaultValidator.
type Validator struct {
	stop          map[string]struct{}
	allowNegative map[string]struct{}
}

// NewValidator builds a validator from explicit lists. Stoplist entries are
// matched lower-case.
func NewValidator(stoplist, allowNegative []string) *Validator {
	v := &Validator{
		stop:          make(map[string]struct{}, len(stoplist)),
		allowNegative: make(map[string]struct{}, len(allowNegative)),
	}
	for _, w := range stoplist {
		v.stop[strings.ToLower(w)] = struct{}{}
	}
	for _, k := range allowNegative {
		v.allowNegative[k] = struct{}{}
	}
	return v
}

var defaultValidator = NewValidator(DefaultStoplist, DefaultAllowNegative)

// DefaultValidator returns the shared validator built from the default lists.
func DefaultValidator() *Validator { return defaultValidator }

// Validate checks e against the default lists.
func Validate(e graph.Entity, sourceText string) Validation {
	return defaultValidator.Validate(e, sourceText)
}

// Validate runs every check independently and reports all failing reasons.
//
// Grounding: name tokens of at least MinWordLength runes that are not in the
// stoplist must have at least one member appearing in the lower-cased source.
// A name with no such token passes grounding vacuously.
func (v *Validator) Validate(e graph.Entity, sourceText string) Validation {
	res := Validation{Valid: true, Reasons: []string{}}
	fail := func(format string, args ...any) {
		res.Valid = false
		res.Reasons = append(res.Reasons, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(e.ID) == "" {
		fail("empty entity id")
	}
	if strings.TrimSpace(e.Name) == "" {
		fail("empty entity name")
	}

	if e.Name != "" && sourceText != "" {
		words := v.MeaningfulWords(e.Name)
		if len(words) > 0 && !anyContained(strings.ToLower(sourceText), words) {
			fail("entity name %q not grounded in source text (checked words: %s)",
				e.Name, strings.Join(words, ", "))
		}
	}

	for _, k := range e.Properties.Keys() {
		n, ok := e.Properties[k].Num()
		if !ok || n >= 0 {
			continue
		}
		if _, allowed := v.allowNegative[k]; !allowed {
			fail("negative value for %s: %s", k, e.Properties[k])
		}
	}
	return res
}

// MeaningfulWords returns the lower-cased tokens of name that take part in
// grounding. An empty result means grounding is skipped.
func (v *Validator) MeaningfulWords(name string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(strings.TrimSpace(name))) {
		if utf8.RuneCountInString(w) < MinWordLength {
			continue
		}
		if _, stop := v.stop[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

func anyContained(haystack string, words []string) bool {
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}
