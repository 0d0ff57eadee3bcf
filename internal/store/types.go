package store

import "time"

// File is a cached scan of one path.
type File struct {
	ID          int64
	Path        string
	Language    string
	Prefix      string
	Hash        string
	LineCount   int
	LastIndexed time.Time
}

// Key identifies a cached scan.
type Key struct {
	Path     string
	Language string
	Prefix   string
}

func (k Key) prefix() string {
	if k.Prefix == "" {
		return "r"
	}
	return k.Prefix
}
