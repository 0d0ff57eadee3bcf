package scanner

import (
	"bytes"
	"context"
	"fmt"
)

// FileResult is everything the scanner learns about one source file.
type FileResult struct {
	Path     string      `json:"path"`
	Language string      `json:"language"`
	Hash     string      `json:"hash"`
	Lines    int         `json:"lines"`
	IsTest   bool        `json:"is_test"`
	Refs     []Reference `json:"refs"`
	Warnings []Warning   `json:"warnings"`
	Units    []Unit      `json:"units"`
}

// ScanFile scans src as a file of the given language. Path is recorded on
// every reference. Hash and IsTest are left to the caller.
func ScanFile(ctx context.Context, path, lang string, src []byte, opts Options) (*FileResult, error) {
	p, ok := ProfileFor(lang)
	if !ok {
		return nil, fmt.Errorf("scan %s: unsupported language %q", path, lang)
	}
	opts.File = path

	res := &FileResult{
		Path:     path,
		Language: p.Language,
		Lines:    bytes.Count(src, []byte{'\n'}) + 1,
	}
	for f := range Scan(src, p, opts) {
		if f.Ref != nil {
			res.Refs = append(res.Refs, *f.Ref)
		}
		if f.Warning != nil {
			res.Warnings = append(res.Warnings, *f.Warning)
		}
	}

	units, err := Units(ctx, p.Language, src)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	res.Units = units
	return res, nil
}
