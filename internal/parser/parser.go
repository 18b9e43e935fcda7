// Package parser reads library notes: YAML frontmatter describing the note,
// its subject, cards and links, followed by a Markdown body with [[wikilinks]].
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

var wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

// wordsPerMinute is the reading speed used when read_minutes is not given.
const wordsPerMinute = 200

// ErrFrontmatter is returned when a frontmatter block is present but is not valid YAML.
var ErrFrontmatter = errors.New("parser: invalid frontmatter")

// Frontmatter is the YAML header of a library note.
type Frontmatter struct {
	Title       string  `yaml:"title"`
	Subject     Subject `yaml:"subject"`
	Week        *int    `yaml:"week"`
	ReadMinutes int     `yaml:"read_minutes"`
	Summary     string  `yaml:"summary"`
	Cards       []Card  `yaml:"cards"`
	Links       []Link  `yaml:"links"`
}

// Subject names the subject a note belongs to. In YAML it is either a plain
// id (`subject: biology`) or a mapping with id, name, color and icon.
type Subject struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
	Icon  string `yaml:"icon"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (s *Subject) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		s.ID = strings.TrimSpace(n.Value)
		return nil
	}
	type plain Subject
	return n.Decode((*plain)(s))
}

// Card is a flash card declared by a note.
type Card struct {
	ID          string   `yaml:"id"`
	Question    string   `yaml:"question"`
	Answer      string   `yaml:"answer"`
	Kind        string   `yaml:"kind"`
	Difficulty  int      `yaml:"difficulty"`
	Explanation string   `yaml:"explanation"`
	Options     []Option `yaml:"options"`
}

// Option is one answer choice of a declared card.
type Option struct {
	ID      string `yaml:"id"`
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

// Link is an explicit semantic link to another note.
type Link struct {
	Target     string   `yaml:"target"`
	Similarity *float64 `yaml:"similarity"`
	Type       string   `yaml:"type"`
	Strength   *float64 `yaml:"strength"`
}

// Result holds the output of parsing a library note.
type Result struct {
	Frontmatter *Frontmatter
	Body        string
	// Wikilinks are the deduplicated [[targets]] of the body, aliases removed.
	Wikilinks   []string
	Title       string
	ReadMinutes int
}

// Parse extracts frontmatter, body and wikilinks from raw Markdown bytes. A
// note without frontmatter parses to a nil Frontmatter.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Frontmatter: fm,
		Body:        body,
		Wikilinks:   extractLinks(body),
		Title:       deriveTitle(fm, body),
		ReadMinutes: estimateMinutes(body),
	}
	if fm != nil && fm.ReadMinutes > 0 {
		res.ReadMinutes = fm.ReadMinutes
	}
	return res, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (*Frontmatter, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter: the dashes are a Markdown rule, not a header.
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm Frontmatter
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFrontmatter, err)
	}
	return &fm, body, nil
}

// extractLinks returns deduplicated wikilink targets, normalising aliases.
func extractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		raw := m[1]
		// [[Target|Alias]] → Target.
		target := raw
		if i := strings.Index(raw, "|"); i >= 0 {
			target = raw[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm *Frontmatter, body string) string {
	if fm != nil && fm.Title != "" {
		return fm.Title
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// estimateMinutes rounds the reading time of body up to whole minutes.
func estimateMinutes(body string) int {
	words := len(strings.FieldsFunc(body, unicode.IsSpace))
	if words == 0 {
		return 0
	}
	return (words + wordsPerMinute - 1) / wordsPerMinute
}
