package index

import "github.com/jward/ruletrace/internal/markdown"

// Counts is the coverage tally of a set of rules.
type Counts struct {
	Impl   int `json:"impl"`
	Verify int `json:"verify"`
	Total  int `json:"total"`
}

func (c *Counts) add(o Counts) {
	c.Impl += o.Impl
	c.Verify += o.Verify
	c.Total += o.Total
}

// ImplPercent returns the share of rules with an impl reference.
func (c Counts) ImplPercent() float64 { return Percent(c.Impl, c.Total) }

// VerifyPercent returns the share of rules with a verify reference.
func (c Counts) VerifyPercent() float64 { return Percent(c.Verify, c.Total) }

// OutlineEntry is a heading with the coverage of the rules defined directly
// under it (Direct) and under it or any descendant (Aggregated).
type OutlineEntry struct {
	Slug       string          `json:"slug"`
	Title      string          `json:"title"`
	Level      int             `json:"level"`
	Line       int             `json:"line"`
	Rules      []string        `json:"rules"`
	Direct     Counts          `json:"direct"`
	Aggregated Counts          `json:"aggregated"`
	Children   []*OutlineEntry `json:"children"`
}

// Doc is one specification document with its coverage outline.
type Doc struct {
	Path     string          `json:"path"`
	Title    string          `json:"title,omitempty"`
	Weight   int             `json:"weight"`
	HTML     string          `json:"html"`
	Preamble Counts          `json:"preamble"`
	Outline  []*OutlineEntry `json:"outline"`
	Totals   Counts          `json:"totals"`
}

// buildOutline converts document headings to outline entries and aggregates
// counts bottom-up.
func buildOutline(m *Manifest, docs []*markdown.Document, fwd *Forward) []*Doc {
	out := make([]*Doc, 0, len(docs))
	for _, d := range docs {
		doc := &Doc{Path: d.Path, Title: d.Title, Weight: d.Weight, HTML: d.HTML}
		c := counter{path: d.Path, m: m, fwd: fwd}
		doc.Preamble = c.count(d.Preamble)
		doc.Totals = doc.Preamble
		for _, h := range d.Outline {
			e := c.entry(h)
			doc.Outline = append(doc.Outline, e)
			doc.Totals.add(e.Aggregated)
		}
		out = append(out, doc)
	}
	return out
}

type counter struct {
	path string
	m    *Manifest
	fwd  *Forward
}

func (c counter) entry(h *markdown.Heading) *OutlineEntry {
	e := &OutlineEntry{
		Slug:  h.Slug,
		Title: h.Title,
		Level: h.Level,
		Line:  h.Line,
		Rules: h.Rules,
	}
	e.Direct = c.count(h.Rules)
	e.Aggregated = e.Direct
	for _, ch := range h.Children {
		ce := c.entry(ch)
		e.Children = append(e.Children, ce)
		e.Aggregated.add(ce.Aggregated)
	}
	return e
}

// count tallies the ids this document contributed to the manifest. An id
// shadowed by a definition in an earlier document is not counted here.
func (c counter) count(ids []string) Counts {
	var n Counts
	for _, id := range ids {
		def, ok := c.m.Get(id)
		if !ok || def.SpecFile != c.path || def.ID != id {
			continue
		}
		n.Total++
		e, ok := c.fwd.Get(def.Base)
		if !ok {
			continue
		}
		if e.Implemented() {
			n.Impl++
		}
		if e.Verified() {
			n.Verify++
		}
	}
	return n
}
