package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Unit is a declaration that counts toward reverse-index coverage: a
// function, method, type, and so on. Lines are 1-based and inclusive; the
// range includes directly preceding doc comments.
type Unit struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Units parses src with the language's tree-sitter grammar and returns its
// code units ordered by start line. Languages without a grammar yield nil.
func Units(ctx context.Context, lang string, src []byte) ([]Unit, error) {
	g, ok := grammarFor(lang)
	if !ok {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", lang, err)
	}
	defer tree.Close()

	var units []Unit
	stack := []*sitter.Node{tree.RootNode()}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if kind, ok := g.units[n.Type()]; ok {
			if !g.needsBody[n.Type()] || n.ChildByFieldName("body") != nil {
				units = append(units, Unit{
					Kind:      kind,
					Name:      unitName(n, src),
					StartLine: docStartRow(n) + 1,
					EndLine:   int(n.EndPoint().Row) + 1,
				})
				continue
			}
		}
		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			if c := n.NamedChild(i); c != nil {
				stack = append(stack, c)
			}
		}
	}

	sort.SliceStable(units, func(i, j int) bool {
		if units[i].StartLine != units[j].StartLine {
			return units[i].StartLine < units[j].StartLine
		}
		return units[i].EndLine < units[j].EndLine
	})
	return units, nil
}

// docStartRow returns the 0-based row where n's leading comment block starts.
// Comments count only when they are contiguous with the declaration.
func docStartRow(n *sitter.Node) int {
	start := int(n.StartPoint().Row)
	for prev := n.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		if !strings.Contains(prev.Type(), "comment") {
			break
		}
		if int(prev.EndPoint().Row)+1 < start {
			break
		}
		start = int(prev.StartPoint().Row)
	}
	return start
}

// unitName finds the declared name of a unit node. Grammars disagree on
// where the name lives, so it checks the "name" field, then follows
// "declarator" chains (C family), then looks one level into named children
// (Go type declarations wrap a type_spec).
func unitName(n *sitter.Node, src []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	d := n
	for depth := 0; depth < 5; depth++ {
		next := d.ChildByFieldName("declarator")
		if next == nil {
			break
		}
		d = next
		if name := d.ChildByFieldName("name"); name != nil {
			return name.Content(src)
		}
		if strings.HasSuffix(d.Type(), "identifier") {
			return d.Content(src)
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil {
			continue
		}
		if name := c.ChildByFieldName("name"); name != nil {
			return name.Content(src)
		}
	}
	return ""
}
