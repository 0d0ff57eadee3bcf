// Package scanner extracts verb-tagged rule references from the comment
// regions of source files.
//
// Scanning is comment-syntax aware but is not a full lexer: comment
// delimiters inside string literals are skipped on a best-effort basis using
// the language profile's quote characters.
package scanner

import (
	"bytes"
	"fmt"
	"iter"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jward/ruletrace/internal/ruleid"
)

// Verb is the relationship a reference declares with its rule.
type Verb string

const (
	VerbDefine  Verb = "define"
	VerbImpl    Verb = "impl"
	VerbVerify  Verb = "verify"
	VerbDepends Verb = "depends"
	VerbRelated Verb = "related"
	VerbUnknown Verb = "unknown"
)

// Verbs lists the recognized verbs in display order.
var Verbs = []Verb{VerbDefine, VerbImpl, VerbVerify, VerbDepends, VerbRelated}

// ParseVerb returns the verb named by s.
func ParseVerb(s string) (Verb, bool) {
	for _, v := range Verbs {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}

// Covers reports whether a reference with this verb counts toward coverage.
func (v Verb) Covers() bool {
	switch v {
	case VerbImpl, VerbVerify, VerbDepends, VerbRelated:
		return true
	}
	return false
}

// Reference is one occurrence of a rule reference in a source comment.
// ByteOffset and ByteLength span the bracketed token from '[' to ']'.
type Reference struct {
	Verb       Verb   `json:"verb"`
	RuleID     string `json:"rule_id"`
	File       string `json:"file"`
	ByteOffset int    `json:"byte_offset"`
	ByteLength int    `json:"byte_length"`
	Line       int    `json:"line"`
	Column     int    `json:"column"`
}

// WarningKind classifies a non-fatal scan problem.
type WarningKind string

const (
	WarnUnknownVerb        WarningKind = "unknown-verb"
	WarnMalformedRuleID    WarningKind = "malformed-rule-id"
	WarnMalformedReference WarningKind = "malformed-reference"
)

// Warning is a non-fatal problem found while scanning.
type Warning struct {
	Kind       WarningKind `json:"kind"`
	Message    string      `json:"message"`
	Token      string      `json:"token"`
	File       string      `json:"file"`
	ByteOffset int         `json:"byte_offset"`
	ByteLength int         `json:"byte_length"`
	Line       int         `json:"line"`
	Column     int         `json:"column"`
}

// Finding is one item of a scan. Ref and Warning may both be set: an
// unrecognized verb yields a reference with VerbUnknown and a warning.
type Finding struct {
	Ref     *Reference
	Warning *Warning
}

// Options tunes token recognition.
type Options struct {
	// File is recorded on every reference and warning.
	File string

	// Prefix is the identifier that may directly precede a bracket, as in
	// r[impl auth.login]. Defaults to "r".
	Prefix string
}

func (o Options) prefix() string {
	if o.Prefix == "" {
		return "r"
	}
	return o.Prefix
}

// maxTokenLen bounds the bracket content length considered a candidate.
const maxTokenLen = 200

// Scan lazily yields the references and warnings found in the comment
// regions of src, interpreted with the given language profile.
func Scan(src []byte, p *Profile, opts Options) iter.Seq[Finding] {
	return func(yield func(Finding) bool) {
		lines := newLineIndex(src)
		for r := range commentRegions(src, p) {
			if !scanRegion(src, r.start, r.end, lines, opts, yield) {
				return
			}
		}
	}
}

// ScanText treats all of text as comment content. The markdown extractor uses
// it to find dependency markers inside rule text.
func ScanText(text []byte, opts Options) iter.Seq[Finding] {
	return func(yield func(Finding) bool) {
		scanRegion(text, 0, len(text), newLineIndex(text), opts, yield)
	}
}

type region struct {
	start, end int
}

// commentRegions walks src once with a small state machine and yields the
// content span of each comment.
func commentRegions(src []byte, p *Profile) iter.Seq[region] {
	return func(yield func(region) bool) {
		n := len(src)
		i := 0
	outer:
		for i < n {
			for _, b := range p.Blocks {
				if bytes.HasPrefix(src[i:], []byte(b.Open)) {
					start := i + len(b.Open)
					end, next := blockEnd(src, start, b, p.NestedBlocks)
					if !yield(region{start: start, end: end}) {
						return
					}
					i = next
					continue outer
				}
			}
			for _, lp := range p.LinePrefixes {
				if bytes.HasPrefix(src[i:], []byte(lp)) {
					start := i + len(lp)
					end := bytes.IndexByte(src[start:], '\n')
					if end < 0 {
						end = n
					} else {
						end += start
					}
					if !yield(region{start: start, end: end}) {
						return
					}
					i = end
					continue outer
				}
			}
			if q := src[i]; strings.IndexByte(p.Quotes, q) >= 0 {
				i = skipString(src, i, q)
				continue
			}
			if src[i] == '\'' && p.CharLiterals {
				i = skipChar(src, i)
				continue
			}
			i++
		}
	}
}

// blockEnd returns the end of the comment content and the offset just past
// the closing delimiter. Unterminated comments run to the end of src.
func blockEnd(src []byte, start int, b BlockDelim, nested bool) (int, int) {
	depth := 1
	j := start
	for j < len(src) {
		if nested && bytes.HasPrefix(src[j:], []byte(b.Open)) {
			depth++
			j += len(b.Open)
			continue
		}
		if bytes.HasPrefix(src[j:], []byte(b.Close)) {
			depth--
			if depth == 0 {
				return j, j + len(b.Close)
			}
			j += len(b.Close)
			continue
		}
		j++
	}
	return len(src), len(src)
}

// maxCharEscape bounds the length of an escaped char literal such as
// '\u{10FFFF}'.
const maxCharEscape = 12

// skipChar returns the offset just past the char literal opened at i, or i+1
// when no complete literal follows.
func skipChar(src []byte, i int) int {
	j := i + 1
	if j >= len(src) || src[j] == '\n' {
		return i + 1
	}
	if src[j] == '\\' {
		for k := j + 2; k < len(src) && k-i <= maxCharEscape; k++ {
			switch src[k] {
			case '\'':
				return k + 1
			case '\n':
				return i + 1
			}
		}
		return i + 1
	}
	_, size := utf8.DecodeRune(src[j:])
	if j+size < len(src) && src[j+size] == '\'' {
		return j + size + 1
	}
	return i + 1
}

// skipString returns the offset just past the string literal opened at i.
// Backtick strings are raw; other strings stop at an unescaped newline.
func skipString(src []byte, i int, q byte) int {
	j := i + 1
	for j < len(src) {
		c := src[j]
		switch {
		case c == '\\' && q != '`':
			j += 2
			continue
		case c == q:
			return j + 1
		case c == '\n' && q != '`':
			return j
		}
		j++
	}
	return len(src)
}

// scanRegion matches bracketed tokens in src[start:end]. It returns false if
// the consumer stopped iteration.
func scanRegion(src []byte, start, end int, lines *lineIndex, opts Options, yield func(Finding) bool) bool {
	for k := start; k < end; k++ {
		if src[k] != '[' {
			continue
		}
		f, next, ok := matchToken(src, k, end, lines, opts)
		if !ok {
			continue
		}
		if !yield(f) {
			return false
		}
		k = next - 1
	}
	return true
}

// matchToken tries to read a reference token whose '[' is at k. It returns
// the finding, the offset just past the token, and whether a candidate was
// recognized at all.
func matchToken(src []byte, k, end int, lines *lineIndex, opts Options) (Finding, int, bool) {
	j := k + 1
	for j < end && j-k <= maxTokenLen {
		c := src[j]
		if c == ']' || c == '\n' || c == '[' {
			break
		}
		j++
	}
	if j >= end || src[j] != ']' {
		return Finding{}, 0, false
	}
	// Markdown links.
	if j+1 < len(src) && src[j+1] == '(' {
		return Finding{}, 0, false
	}

	prefixed := false
	if k > 0 && isIdentByte(src[k-1]) {
		p0 := k - 1
		for p0 > 0 && isIdentByte(src[p0-1]) {
			p0--
		}
		if string(src[p0:k]) != opts.prefix() {
			return Finding{}, 0, false
		}
		prefixed = true
	}

	content := string(src[k+1 : j])
	next := j + 1
	line, col := lines.position(k)
	mkWarn := func(kind WarningKind, msg string) *Warning {
		return &Warning{
			Kind: kind, Message: msg, Token: string(src[k:next]), File: opts.File,
			ByteOffset: k, ByteLength: next - k, Line: line, Column: col,
		}
	}
	mkRef := func(v Verb, id string) *Reference {
		return &Reference{
			Verb: v, RuleID: id, File: opts.File,
			ByteOffset: k, ByteLength: next - k, Line: line, Column: col,
		}
	}

	fields := strings.Fields(content)
	if len(fields) == 0 || strings.Join(fields, " ") != content {
		if prefixed && len(fields) > 0 {
			return Finding{Warning: mkWarn(WarnMalformedReference, "reference token has irregular spacing")}, next, true
		}
		return Finding{}, 0, false
	}

	switch len(fields) {
	case 1:
		id := fields[0]
		if !prefixed && !strings.Contains(id, ".") {
			return Finding{}, 0, false
		}
		if !ruleid.ValidToken(id) {
			if prefixed {
				return Finding{Warning: mkWarn(WarnMalformedRuleID, fmt.Sprintf("malformed rule id %q", id))}, next, true
			}
			return Finding{}, 0, false
		}
		return Finding{Ref: mkRef(VerbImpl, id)}, next, true

	case 2:
		verbTok, id := fields[0], fields[1]
		if v, ok := ParseVerb(verbTok); ok {
			if !ruleid.ValidToken(id) {
				return Finding{Warning: mkWarn(WarnMalformedRuleID, fmt.Sprintf("malformed rule id %q", id))}, next, true
			}
			return Finding{Ref: mkRef(v, id)}, next, true
		}
		if !isVerbLike(verbTok) || !ruleid.ValidToken(id) {
			return Finding{}, 0, false
		}
		if !prefixed && !strings.Contains(id, ".") {
			return Finding{}, 0, false
		}
		return Finding{
			Ref:     mkRef(VerbUnknown, id),
			Warning: mkWarn(WarnUnknownVerb, fmt.Sprintf("unknown verb %q for rule %s", verbTok, id)),
		}, next, true
	}

	if prefixed {
		return Finding{Warning: mkWarn(WarnMalformedReference, "reference token has too many words")}, next, true
	}
	return Finding{}, 0, false
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func isVerbLike(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return s != ""
}

// lineIndex maps byte offsets to 1-based line and column numbers.
type lineIndex struct {
	starts []int
}

func newLineIndex(src []byte) *lineIndex {
	starts := []int{0}
	for i, c := range src {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{starts: starts}
}

func (li *lineIndex) position(off int) (line, col int) {
	i := sort.SearchInts(li.starts, off+1) - 1
	return i + 1, off - li.starts[i] + 1
}
