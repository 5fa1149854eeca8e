// Package sanitize strips markup and query operators from untrusted input
// before it reaches validation or the store.
//
// The primary pass is bluemonday over a size-bounded html tokenizer. When the
// tokenizer gives up (ErrParse) a regex pass takes over; it is stricter than
// any policy and never returns input that still holds a script-like pattern.
package sanitize

import (
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
)

// Rule selects how a string field is cleaned. The set is closed.
type Rule int

const (
	// RuleStrict removes every tag and encodes the remaining text.
	RuleStrict Rule = iota
	// RuleRich keeps paragraph, line-break, emphasis and list tags with no attributes.
	RuleRich
	// RuleEmail is RuleStrict followed by lowercasing.
	RuleEmail
	// RuleURL strips tags and script schemes without entity encoding, so
	// query strings keep their "&". The url validators guard the shape.
	RuleURL
	// RuleSecret leaves the value untouched. Passwords are hashed, never rendered.
	RuleSecret
)

func (r Rule) String() string {
	switch r {
	case RuleStrict:
		return "strict"
	case RuleRich:
		return "rich"
	case RuleEmail:
		return "email"
	case RuleURL:
		return "url"
	case RuleSecret:
		return "secret"
	}
	return fmt.Sprintf("rule(%d)", int(r))
}

// ErrParse reports that the primary pass could not tokenize the input.
var ErrParse = errors.New("sanitize: input could not be parsed")

const defaultMaxTokenBytes = 256 << 10

var (
	strictPolicy = bluemonday.StrictPolicy()
	richPolicy   = bluemonday.NewPolicy().
			AllowElements("p", "br", "strong", "em", "b", "i", "u", "ul", "ol", "li")
)

var (
	reScriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	reJSScheme    = regexp.MustCompile(`(?i)javascript\s*:`)
	reEventAttr   = regexp.MustCompile(`(?i)\bon\w+\s*=`)
	reAnyTag      = regexp.MustCompile(`(?s)<[^>]*(?:>|$)`)

	urlUnsafe = strings.NewReplacer("<", "", ">", "", `"`, "", "`", "")
)

// maxStripPasses bounds the strip loop. Input still changing after that many
// passes is nested on purpose and is dropped.
const maxStripPasses = 16

// Sanitizer applies rules with a bounded tokenizer. The zero value is not usable; use New.
type Sanitizer struct {
	maxTokenBytes int
	onFallback    func(rule Rule, err error)
}

type Option func(*Sanitizer)

// WithMaxTokenBytes bounds the bytes the tokenizer buffers for a single token.
func WithMaxTokenBytes(n int) Option {
	return func(s *Sanitizer) {
		if n > 0 {
			s.maxTokenBytes = n
		}
	}
}

// WithFallbackHook is called every time the secondary pass runs. Used for metrics.
func WithFallbackHook(fn func(rule Rule, err error)) Option {
	return func(s *Sanitizer) { s.onFallback = fn }
}

func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{maxTokenBytes: defaultMaxTokenBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

var std = New()

// Sanitize cleans input with the package default Sanitizer.
func Sanitize(input string, rule Rule) string { return std.Sanitize(input, rule) }

func Email(s string) string       { return std.Sanitize(s, RuleEmail) }
func Name(s string) string        { return std.Sanitize(s, RuleStrict) }
func Description(s string) string { return std.Sanitize(s, RuleRich) }

// Sanitize never fails. A parse failure in the primary pass is recovered by the secondary pass.
func (s *Sanitizer) Sanitize(input string, rule Rule) string {
	if rule == RuleSecret {
		return input
	}
	in := normalize(input)
	if in == "" {
		return ""
	}
	out, err := s.Primary(in, rule)
	if err != nil {
		if s.onFallback != nil {
			s.onFallback(rule, err)
		}
		out = fallback(in, rule)
	}
	out = normalize(out)
	if rule == RuleEmail {
		out = strings.ToLower(out)
	}
	return out
}

// Primary runs the policy pass only. It returns an error wrapping ErrParse when
// the input exceeds the tokenizer bounds.
func (s *Sanitizer) Primary(input string, rule Rule) (string, error) {
	switch rule {
	case RuleSecret:
		return input, nil
	case RuleURL:
		return cleanURL(input), nil
	}
	z := xhtml.NewTokenizer(strings.NewReader(input))
	z.SetMaxBuf(s.maxTokenBytes)
	for z.Next() != xhtml.ErrorToken {
	}
	if err := z.Err(); !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: %w", ErrParse, err)
	}

	switch rule {
	case RuleRich:
		return richPolicy.Sanitize(input), nil
	default:
		return strictPolicy.Sanitize(input), nil
	}
}

// fallback drops every tag, so it is at least as strict as any rule.
func fallback(input string, rule Rule) string {
	if rule == RuleURL {
		return cleanURL(input)
	}
	out, ok := stripToFixedPoint(input, true, reScriptBlock, reAnyTag, reJSScheme, reEventAttr)
	if !ok {
		return ""
	}
	return html.EscapeString(out)
}

// cleanURL skips reEventAttr: without tags "on...=" is only a query parameter.
// Entities are left encoded ("&copy=1" is a valid query), but a value that
// decodes to a script scheme or markup is dropped.
func cleanURL(input string) string {
	out, ok := stripToFixedPoint(input, false, reScriptBlock, reAnyTag, reJSScheme)
	if !ok {
		return ""
	}
	out = strings.TrimSpace(urlUnsafe.Replace(out))
	if dec := html.UnescapeString(out); reJSScheme.MatchString(dec) || strings.ContainsAny(dec, "<>") {
		return ""
	}
	return out
}

// stripToFixedPoint removes every match of res until a pass changes nothing,
// so removed fragments cannot rejoin into a pattern. With unescape, entities
// are decoded first on every pass and encoded schemes are matched decoded.
func stripToFixedPoint(input string, unescape bool, res ...*regexp.Regexp) (string, bool) {
	out := input
	for range maxStripPasses {
		next := out
		if unescape {
			next = html.UnescapeString(next)
		}
		for _, re := range res {
			next = re.ReplaceAllString(next, "")
		}
		if next == out {
			return out, true
		}
		out = next
	}
	return "", false
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}
