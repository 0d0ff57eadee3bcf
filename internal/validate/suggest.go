package validate

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/jward/ruletrace/internal/ruleid"
)

type candidate struct {
	id       string
	shared   int
	prefix   int
	distance int
}

// Suggest returns up to limit ids from known that look like id: most shared
// segments first, then longest common prefix, then smallest edit distance.
// Ids sharing nothing and more than a third of their length apart are not
// suggested.
func Suggest(id string, known []string, limit int) []string {
	base := id
	if parsed, ok := ruleid.Parse(id); ok {
		base = parsed.Base
	}
	segs := strings.Split(base, ".")

	var cands []candidate
	for _, k := range known {
		c := candidate{
			id:       k,
			shared:   sharedSegments(segs, strings.Split(k, ".")),
			prefix:   commonPrefix(base, k),
			distance: levenshtein.ComputeDistance(base, k),
		}
		if c.shared == 0 && c.distance*3 > max(len(base), len(k)) {
			continue
		}
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.shared != b.shared {
			return a.shared > b.shared
		}
		if a.prefix != b.prefix {
			return a.prefix > b.prefix
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.id < b.id
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sharedSegments(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	n := 0
	for _, s := range a {
		if set[s] {
			n++
			delete(set, s)
		}
	}
	return n
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
