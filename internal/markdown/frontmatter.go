package markdown

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type frontmatter struct {
	Weight int    `yaml:"weight" toml:"weight"`
	Title  string `yaml:"title" toml:"title"`
}

// splitFrontmatter detects a leading YAML (---) or TOML (+++) block and
// returns its decoded fields and the offset where the markdown body starts.
// Unknown keys are ignored. A block without a closing fence is not
// frontmatter.
func splitFrontmatter(src []byte) (frontmatter, int, error) {
	var fm frontmatter
	var fence string
	switch {
	case bytes.HasPrefix(src, []byte("---\n")), bytes.HasPrefix(src, []byte("---\r\n")):
		fence = "---"
	case bytes.HasPrefix(src, []byte("+++\n")), bytes.HasPrefix(src, []byte("+++\r\n")):
		fence = "+++"
	default:
		return fm, 0, nil
	}

	contentStart := bytes.IndexByte(src, '\n') + 1
	pos := contentStart
	for pos <= len(src) {
		nl := bytes.IndexByte(src[pos:], '\n')
		lineEnd := len(src)
		if nl >= 0 {
			lineEnd = pos + nl
		}
		line := bytes.TrimRight(src[pos:lineEnd], "\r")
		if string(line) == fence {
			content := src[contentStart:pos]
			bodyStart := lineEnd
			if nl >= 0 {
				bodyStart = lineEnd + 1
			}
			var err error
			if fence == "---" {
				err = yaml.Unmarshal(content, &fm)
			} else {
				_, err = toml.Decode(string(content), &fm)
			}
			if err != nil {
				return frontmatter{}, bodyStart, fmt.Errorf("frontmatter: %w", err)
			}
			return fm, bodyStart, nil
		}
		if nl < 0 {
			break
		}
		pos = lineEnd + 1
	}
	return frontmatter{}, 0, nil
}
