// Package markdown extracts rule definitions from specification documents
// and rewrites them into a linkable, outline-annotated form.
//
// A rule marker such as r[auth.login] is recognized only when it is the sole
// content of a line inside a paragraph, optionally within a blockquote.
// Inline markers and markers in code blocks stay literal text.
package markdown

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"sort"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/jward/ruletrace/internal/ruleid"
	"github.com/jward/ruletrace/internal/scanner"
)

// Options tunes marker recognition.
type Options struct {
	// Prefix is the identifier before the marker bracket. Defaults to "r".
	Prefix string
}

func (o Options) prefix() string {
	if o.Prefix == "" {
		return "r"
	}
	return o.Prefix
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
}

// marker is a recognized rule marker line.
type marker struct {
	offset int // in the body
	length int
	id     ruleid.ID
	attrs  []string
	block  ast.Node
	line   int // index of the marker line within block.Lines()
}

// extraction carries the per-document state of one pass.
type extraction struct {
	path      string
	src       []byte
	body      []byte
	bodyStart int
	opts      Options

	doc     *Document
	seen    map[string]*RuleDefinition
	anchors map[string]int
	splices []splice
	slugs   *slugger

	stack []*Heading
}

type splice struct {
	offset, length int
	replacement    string
}

// Extract parses a specification file and returns its rule definitions,
// duplicates, warnings, outline, rewritten body and rendered HTML.
func Extract(path string, src []byte, opts Options) (*Document, error) {
	doc := &Document{Path: path}

	fm, bodyStart, err := splitFrontmatter(src)
	if err != nil {
		doc.Warnings = append(doc.Warnings, scanner.Warning{
			Kind: WarnFrontmatter, Message: err.Error(), File: path, Line: 1, Column: 1,
		})
	}
	doc.Weight = fm.Weight
	doc.Title = fm.Title

	x := &extraction{
		path:      path,
		src:       src,
		body:      src[bodyStart:],
		bodyStart: bodyStart,
		opts:      opts,
		doc:       doc,
		seen:      make(map[string]*RuleDefinition),
		anchors:   make(map[string]int),
		slugs:     newSlugger(),
	}

	md := newMarkdown()
	root := md.Parser().Parse(text.NewReader(x.body))

	var slugs []string
	err = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			h := x.heading(n.(*ast.Heading))
			slugs = append(slugs, h.Slug)
			return ast.WalkSkipChildren, nil
		case ast.KindParagraph, ast.KindTextBlock:
			x.block(n)
			return ast.WalkSkipChildren, nil
		case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}

	doc.Rewritten = x.rewrite()
	rendered, err := render(md, doc.Rewritten, slugs)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", path, err)
	}
	doc.HTML = rendered
	return doc, nil
}

// heading adds an outline entry using the stack discipline: pop every open
// heading whose level is at least the new one, then attach as a child of the
// remaining top.
func (x *extraction) heading(n *ast.Heading) *Heading {
	title := strings.TrimSpace(plainText(n, x.body))
	h := &Heading{
		Slug:  x.slugs.slug(title),
		Title: title,
		Level: n.Level,
		Line:  x.lineOfBlock(n),
	}
	for len(x.stack) > 0 && x.stack[len(x.stack)-1].Level >= h.Level {
		x.stack = x.stack[:len(x.stack)-1]
	}
	if len(x.stack) == 0 {
		x.doc.Outline = append(x.doc.Outline, h)
	} else {
		parent := x.stack[len(x.stack)-1]
		parent.Children = append(parent.Children, h)
	}
	x.stack = append(x.stack, h)
	return h
}

// block scans the lines of a paragraph for marker lines.
func (x *extraction) block(n ast.Node) {
	lines := n.Lines()
	var markers []marker
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		raw := seg.Value(x.body)
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			continue
		}
		start := seg.Start + bytes.Index(raw, trimmed)
		m, ok := x.parseMarker(trimmed, x.bodyStart+start)
		if !ok {
			continue
		}
		m.offset = start
		m.length = len(trimmed)
		m.block = n
		m.line = i
		markers = append(markers, m)
	}
	for i, m := range markers {
		end := lines.Len()
		if i+1 < len(markers) {
			end = markers[i+1].line
		}
		x.define(m, x.ruleText(n, m.line+1, end))
	}
}

// parseMarker recognizes "<prefix>[id attr=value ...]". A marker with a
// malformed id produces a warning and is not a definition.
func (x *extraction) parseMarker(line []byte, off int) (marker, bool) {
	p := x.opts.prefix() + "["
	s := string(line)
	if !strings.HasPrefix(s, p) || !strings.HasSuffix(s, "]") {
		return marker{}, false
	}
	content := s[len(p) : len(s)-1]
	if strings.ContainsAny(content, "[]") {
		return marker{}, false
	}
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return marker{}, false
	}
	if _, isVerb := scanner.ParseVerb(fields[0]); isVerb {
		return marker{}, false
	}
	id, ok := ruleid.Parse(fields[0])
	if !ok {
		x.warn(scanner.WarnMalformedRuleID, fmt.Sprintf("malformed rule id %q in marker", fields[0]), s, off)
		return marker{}, false
	}
	return marker{id: id, attrs: fields[1:]}, true
}

// ruleText collects the body of a rule: the block's lines after the marker
// up to the next marker. A marker alone at the end of its block takes the
// rest of an enclosing blockquote, or else the next paragraph.
func (x *extraction) ruleText(n ast.Node, from, to int) string {
	lines := n.Lines()
	var parts []string
	for i := from; i < to; i++ {
		seg := lines.At(i)
		if t := strings.TrimSpace(string(seg.Value(x.body))); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) > 0 || to < lines.Len() {
		return strings.Join(parts, " ")
	}

	if bq := n.Parent(); bq != nil && bq.Kind() == ast.KindBlockquote {
		var blocks []string
		for s := n.NextSibling(); s != nil; s = s.NextSibling() {
			if t := x.blockText(s); t != "" {
				blocks = append(blocks, t)
			}
		}
		return strings.Join(blocks, "\n\n")
	}

	next := n.NextSibling()
	if next == nil || (next.Kind() != ast.KindParagraph && next.Kind() != ast.KindTextBlock) {
		return ""
	}
	nl := next.Lines()
	for i := 0; i < nl.Len(); i++ {
		seg := nl.At(i)
		t := bytes.TrimSpace(seg.Value(x.body))
		if _, isMarker := x.peekMarker(t); isMarker {
			break
		}
		if len(t) > 0 {
			parts = append(parts, string(t))
		}
	}
	return strings.Join(parts, " ")
}

// peekMarker is parseMarker without side effects.
func (x *extraction) peekMarker(line []byte) (ruleid.ID, bool) {
	p := x.opts.prefix() + "["
	s := string(line)
	if !strings.HasPrefix(s, p) || !strings.HasSuffix(s, "]") {
		return ruleid.ID{}, false
	}
	fields := strings.Fields(s[len(p) : len(s)-1])
	if len(fields) == 0 {
		return ruleid.ID{}, false
	}
	return ruleid.Parse(fields[0])
}

// blockText flattens a block for use as rule text. Paragraph lines are
// joined with spaces; code keeps its line structure.
func (x *extraction) blockText(n ast.Node) string {
	switch n.Kind() {
	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		var sb strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(x.body))
		}
		return strings.TrimRight(sb.String(), "\n")
	}
	lines := n.Lines()
	if lines.Len() > 0 {
		var parts []string
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if t := strings.TrimSpace(string(seg.Value(x.body))); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, " ")
	}
	var blocks []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t := x.blockText(c); t != "" {
			blocks = append(blocks, t)
		}
	}
	return strings.Join(blocks, "\n")
}

// define records a rule definition, or a duplicate when the id was already
// defined in this document. Both get rewritten with distinct anchors.
func (x *extraction) define(m marker, ruleText string) {
	off := x.bodyStart + m.offset
	line := lineAt(x.src, off)
	loc := Location{File: x.path, Line: line, ByteOffset: off}

	anchor := "r-" + m.id.String()
	x.anchors[m.id.Base]++
	if n := x.anchors[m.id.Base]; n > 1 {
		anchor = fmt.Sprintf("%s-%d", anchor, n)
	}
	x.splices = append(x.splices, splice{
		offset:      m.offset,
		length:      m.length,
		replacement: ruleHTML(m.id.String(), anchor) + "\n" + x.containerPrefix(m.offset),
	})

	if first, dup := x.seen[m.id.Base]; dup {
		x.doc.Duplicates = append(x.doc.Duplicates, Duplicate{
			ID:     m.id.Base,
			First:  Location{File: x.path, Line: first.Line, ByteOffset: first.ByteOffset},
			Second: loc,
		})
		return
	}

	def := &RuleDefinition{
		ID:          m.id.String(),
		Base:        m.id.Base,
		Version:     m.id.Version,
		SpecFile:    x.path,
		ByteOffset:  off,
		ByteLength:  m.length,
		Line:        line,
		Anchor:      anchor,
		RawText:     ruleText,
		HeadingPath: x.headingPath(),
	}
	x.applyAttrs(def, m.attrs, off)
	if def.Level == LevelUnspecified {
		def.Level = detectLevel(ruleText)
	}
	if ruleText != "" && !hasKeyword(ruleText) {
		x.warn(WarnMissingKeyword, fmt.Sprintf("rule %s has no RFC 2119 keyword", def.ID), "", off)
	}
	for f := range scanner.ScanText([]byte(ruleText), scanner.Options{Prefix: x.opts.Prefix}) {
		if f.Ref != nil && f.Ref.Verb == scanner.VerbDepends {
			def.DependsOn = append(def.DependsOn, f.Ref.RuleID)
		}
	}

	x.seen[m.id.Base] = def
	x.doc.Rules = append(x.doc.Rules, def)
	if len(x.stack) > 0 {
		top := x.stack[len(x.stack)-1]
		top.Rules = append(top.Rules, def.ID)
	} else {
		x.doc.Preamble = append(x.doc.Preamble, def.ID)
	}
}

func (x *extraction) applyAttrs(def *RuleDefinition, attrs []string, off int) {
	for _, a := range attrs {
		key, val, ok := strings.Cut(a, "=")
		if !ok || val == "" {
			x.warn(WarnInvalidAttribute, fmt.Sprintf("attribute %q on %s has no value", a, def.ID), a, off)
			continue
		}
		switch key {
		case "status":
			switch s := Status(val); s {
			case StatusDraft, StatusStable, StatusDeprecated, StatusRemoved:
				def.Status = s
			default:
				x.warn(WarnInvalidAttribute, fmt.Sprintf("invalid status %q on %s", val, def.ID), a, off)
			}
		case "level":
			switch l := Level(strings.ToLower(val)); l {
			case LevelMust, LevelShould, LevelMay:
				def.Level = l
			default:
				x.warn(WarnInvalidAttribute, fmt.Sprintf("invalid level %q on %s", val, def.ID), a, off)
			}
		case "since":
			def.Since = val
		case "until":
			def.Until = val
		case "tags":
			for _, t := range strings.Split(val, ",") {
				if t = strings.TrimSpace(t); t != "" {
					def.Tags = append(def.Tags, t)
				}
			}
		default:
			x.warn(WarnUnknownAttribute, fmt.Sprintf("unknown attribute %q on %s", key, def.ID), a, off)
		}
	}
}

func (x *extraction) warn(kind scanner.WarningKind, msg, token string, off int) {
	w := scanner.Warning{Kind: kind, Message: msg, Token: token, File: x.path, ByteOffset: off}
	if off >= 0 {
		w.Line = lineAt(x.src, off)
	}
	x.doc.Warnings = append(x.doc.Warnings, w)
}

func (x *extraction) headingPath() []string {
	path := make([]string, len(x.stack))
	for i, h := range x.stack {
		path[i] = h.Slug
	}
	return path
}

// containerPrefix returns the blockquote markers that open the marker's line
// so the blank line after the rule container stays inside the quote. List
// bullets are dropped.
func (x *extraction) containerPrefix(off int) string {
	start := bytes.LastIndexByte(x.body[:off], '\n') + 1
	var sb strings.Builder
	for _, c := range x.body[start:off] {
		if c == '>' || c == ' ' || c == '\t' {
			sb.WriteByte(c)
		}
	}
	return strings.TrimRight(sb.String(), " \t")
}

func (x *extraction) lineOfBlock(n ast.Node) int {
	if lines := n.Lines(); lines.Len() > 0 {
		return lineAt(x.src, x.bodyStart+lines.At(0).Start)
	}
	return 0
}

// rewrite applies all marker splices to the body.
func (x *extraction) rewrite() []byte {
	sort.Slice(x.splices, func(i, j int) bool { return x.splices[i].offset < x.splices[j].offset })
	var out bytes.Buffer
	out.Grow(len(x.body) + len(x.splices)*128)
	pos := 0
	for _, s := range x.splices {
		out.Write(x.body[pos:s.offset])
		out.WriteString(s.replacement)
		pos = s.offset + s.length
	}
	out.Write(x.body[pos:])
	return out.Bytes()
}

// render parses the rewritten body, assigns outline slugs as heading ids in
// document order and renders HTML.
func render(md goldmark.Markdown, src []byte, slugs []string) (string, error) {
	root := md.Parser().Parse(text.NewReader(src))
	fallback := newSlugger()
	i := 0
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		var slug string
		if i < len(slugs) {
			slug = slugs[i]
		} else {
			slug = fallback.slug(plainText(n, src))
		}
		i++
		n.SetAttributeString("id", []byte(slug))
		return ast.WalkSkipChildren, nil
	})
	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, src, root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ruleHTML is the container that replaces a marker.
func ruleHTML(id, anchor string) string {
	esc := stdhtml.EscapeString(id)
	a := stdhtml.EscapeString(anchor)
	display := strings.ReplaceAll(esc, ".", ".<wbr>")
	return fmt.Sprintf(`<div class="rule" id="%s"><a class="rule-link" href="#%s" title="%s"><span>[%s]</span></a></div>`,
		a, a, esc, display)
}

func plainText(n ast.Node, src []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		default:
			sb.WriteString(plainText(c, src))
		}
	}
	return sb.String()
}

func lineAt(src []byte, off int) int {
	if off > len(src) {
		off = len(src)
	}
	return bytes.Count(src[:off], []byte{'\n'}) + 1
}

// slugger produces heading slugs unique within one document.
type slugger struct {
	used map[string]int
}

func newSlugger() *slugger {
	return &slugger{used: make(map[string]int)}
}

func (s *slugger) slug(title string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			dash = false
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !dash && sb.Len() > 0 {
				sb.WriteByte('-')
				dash = true
			}
		}
	}
	base := strings.TrimRight(sb.String(), "-")
	if base == "" {
		base = "section"
	}
	n := s.used[base]
	s.used[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// detectLevel returns the strongest RFC 2119 keyword present in text.
func detectLevel(text string) Level {
	level := LevelUnspecified
	for _, w := range keywordWords(text) {
		switch w {
		case "MUST", "SHALL", "REQUIRED":
			return LevelMust
		case "SHOULD", "RECOMMENDED":
			level = LevelShould
		case "MAY", "OPTIONAL":
			if level == LevelUnspecified {
				level = LevelMay
			}
		}
	}
	return level
}

func hasKeyword(text string) bool {
	return detectLevel(text) != LevelUnspecified
}

// keywordWords splits text into runs of uppercase ASCII letters.
func keywordWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r < 'A' || r > 'Z'
	})
}
