// Package article parses markdown source documents for publishing: YAML
// frontmatter between --- delimiters carrying publication metadata, followed
// by the markdown body.
package article

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"
)

// Article is one publishable document.
type Article struct {
	Title     string
	Content   string // markdown body, frontmatter stripped
	Tags      []string
	Category  string
	Canonical string
	Draft     bool
}

// frontmatter is the YAML block an article may start with.
type frontmatter struct {
	Title     string   `yaml:"title"`
	Tags      []string `yaml:"tags"`
	Category  string   `yaml:"category"`
	Canonical string   `yaml:"canonical"`
	Draft     bool     `yaml:"draft"`
}

var headingRe = regexp.MustCompile(`(?m)^#{1,2}\s+(.+)$`)

// ParseFile reads and parses a markdown document from disk.
func ParseFile(path string) (*Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read article: %w", err)
	}
	return Parse(data)
}

// Parse parses a markdown document. Frontmatter is optional; a missing title
// falls back to the first markdown heading.
func Parse(data []byte) (*Article, error) {
	a := &Article{}

	body := data
	if fm, rest, ok := extractFrontmatter(data); ok {
		var meta frontmatter
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		a.Title = meta.Title
		a.Tags = meta.Tags
		a.Category = meta.Category
		a.Canonical = meta.Canonical
		a.Draft = meta.Draft
		body = rest
	}

	a.Content = strings.TrimLeft(string(body), "\n")

	if a.Title == "" {
		a.Title = titleFromHeading(body)
	}
	if a.Title == "" {
		return nil, fmt.Errorf("article has no title: no frontmatter title and no heading")
	}

	return a, nil
}

// HTML renders the markdown body to HTML, for editors that take rich text
// rather than raw markdown. GitHub-flavored tables and strikethrough are
// enabled.
func (a *Article) HTML() (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert([]byte(a.Content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

// extractFrontmatter splits a document into its frontmatter bytes and the
// remaining body. ok is false when the document has no frontmatter.
func extractFrontmatter(content []byte) (fm, rest []byte, ok bool) {
	if !bytes.HasPrefix(content, []byte("---")) {
		return nil, nil, false
	}
	after := content[3:]
	idx := bytes.Index(after, []byte("\n---"))
	if idx < 0 {
		return nil, nil, false
	}
	return after[:idx], after[idx+4:], true
}

// titleFromHeading extracts a title from the first level-1 or level-2
// markdown heading.
func titleFromHeading(content []byte) string {
	matches := headingRe.FindSubmatch(content)
	if len(matches) >= 2 {
		return strings.TrimSpace(string(matches[1]))
	}
	return ""
}
