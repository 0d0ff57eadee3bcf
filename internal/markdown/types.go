package markdown

import "github.com/jward/ruletrace/internal/scanner"

// Level is the requirement strength of a rule, from RFC 2119 keywords.
type Level string

const (
	LevelUnspecified Level = ""
	LevelMust        Level = "must"
	LevelShould      Level = "should"
	LevelMay         Level = "may"
)

// Status is the lifecycle stage declared by a rule's status attribute.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusStable     Status = "stable"
	StatusDeprecated Status = "deprecated"
	StatusRemoved    Status = "removed"
)

// RuleDefinition is one rule defined by a marker in a specification file.
// ByteOffset and ByteLength span the marker in the original file, including
// any frontmatter before it.
type RuleDefinition struct {
	ID          string   `json:"id"`
	Base        string   `json:"base"`
	Version     int      `json:"version"`
	SpecFile    string   `json:"spec_file"`
	ByteOffset  int      `json:"byte_offset"`
	ByteLength  int      `json:"byte_length"`
	Line        int      `json:"line"`
	Anchor      string   `json:"anchor"`
	RawText     string   `json:"raw_text"`
	Level       Level    `json:"level,omitempty"`
	HeadingPath []string `json:"heading_path"`

	Status    Status   `json:"status,omitempty"`
	Since     string   `json:"since,omitempty"`
	Until     string   `json:"until,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Location points at a marker in a specification file.
type Location struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	ByteOffset int    `json:"byte_offset"`
}

// Duplicate records a rule id defined more than once. First is the
// definition that was kept.
type Duplicate struct {
	ID     string   `json:"id"`
	First  Location `json:"first"`
	Second Location `json:"second"`
}

// Heading is one node of a document outline. Rules holds the ids defined
// directly under this heading, in document order.
type Heading struct {
	Slug     string     `json:"slug"`
	Title    string     `json:"title"`
	Level    int        `json:"level"`
	Line     int        `json:"line"`
	Rules    []string   `json:"rules"`
	Children []*Heading `json:"children"`
}

// Document is the result of extracting one specification file.
type Document struct {
	Path   string `json:"path"`
	Weight int    `json:"weight"`
	Title  string `json:"title,omitempty"`

	Rules      []*RuleDefinition `json:"rules"`
	Duplicates []Duplicate       `json:"duplicates"`
	Warnings   []scanner.Warning `json:"warnings"`

	// Outline holds the top-level headings. Preamble lists rules defined
	// before the first heading.
	Outline  []*Heading `json:"outline"`
	Preamble []string   `json:"preamble"`

	// Rewritten is the markdown body (frontmatter removed) with every marker
	// replaced by its anchor container. HTML is Rewritten rendered.
	Rewritten []byte `json:"-"`
	HTML      string `json:"html"`
}

// Markdown-specific warning kinds.
const (
	WarnUnknownAttribute scanner.WarningKind = "unknown-attribute"
	WarnInvalidAttribute scanner.WarningKind = "invalid-attribute"
	WarnMissingKeyword   scanner.WarningKind = "missing-keyword"
	WarnFrontmatter      scanner.WarningKind = "frontmatter"
)
