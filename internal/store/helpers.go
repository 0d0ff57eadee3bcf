package store

import "strings"

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// chunk splits args into slices of at most size elements, keeping each
// IN clause under SQLite's variable limit.
func chunk(args []any, size int) [][]any {
	var out [][]any
	for len(args) > size {
		out = append(out, args[:size])
		args = args[size:]
	}
	if len(args) > 0 {
		out = append(out, args)
	}
	return out
}
