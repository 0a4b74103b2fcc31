// Package indexer turns Markdown files into chunks ready for embedding:
// parsing (frontmatter, wikilinks, tags), semantic chunking, deterministic
// chunk identity, and filesystem snapshot tracking.
package indexer

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/vaultmind/vaultmind/internal/common"
)

var (
	wikilinkPattern = regexp.MustCompile(`\[\[([^\]|#]+)(?:#[^\]|]*)?(?:\|[^\]]*)?\]\]`)
	tagPattern      = regexp.MustCompile(`(?:^|\s)#([A-Za-z0-9_/-]+)`)
	headingPattern  = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// ParsedFile is the result of parsing one note.
type ParsedFile struct {
	Content     string            // body with frontmatter stripped
	Title       string            // frontmatter title, first heading, or file stem
	Frontmatter map[string]string // flat string frontmatter fields
	Links       []string          // wikilink targets
	Tags        []string          // inline and frontmatter tags
	WordCount   int
	ModifiedAt  time.Time
}

// ParseFile reads and parses a Markdown or plain-text note.
func ParseFile(path string) (*ParsedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.WrapError(common.CodeInternal, err, "failed to read %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, common.WrapError(common.CodeInternal, err, "failed to stat %s", path)
	}

	parsed := Parse(string(data))
	parsed.ModifiedAt = info.ModTime()
	if parsed.Title == "" {
		parsed.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return parsed, nil
}

// Parse parses note text without touching the filesystem.
func Parse(text string) *ParsedFile {
	frontmatter, body := splitFrontmatter(text)

	p := &ParsedFile{
		Content:     body,
		Frontmatter: frontmatter,
		Title:       frontmatter["title"],
	}

	if p.Title == "" {
		if m := headingPattern.FindStringSubmatch(body); m != nil {
			p.Title = strings.TrimSpace(m[1])
		}
	}

	seen := make(map[string]bool)
	for _, m := range wikilinkPattern.FindAllStringSubmatch(body, -1) {
		link := strings.TrimSpace(m[1])
		if link != "" && !seen["l:"+link] {
			seen["l:"+link] = true
			p.Links = append(p.Links, link)
		}
	}

	for _, m := range tagPattern.FindAllStringSubmatch(body, -1) {
		tag := m[1]
		if !seen["t:"+tag] {
			seen["t:"+tag] = true
			p.Tags = append(p.Tags, tag)
		}
	}
	if raw, ok := frontmatter["tags"]; ok {
		for _, tag := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '[' || r == ']' }) {
			tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
			if tag != "" && !seen["t:"+tag] {
				seen["t:"+tag] = true
				p.Tags = append(p.Tags, tag)
			}
		}
	}

	p.WordCount = len(strings.Fields(body))
	return p
}

// splitFrontmatter extracts a leading YAML frontmatter block. Only flat
// "key: value" lines are captured; nested structures are ignored.
func splitFrontmatter(text string) (map[string]string, string) {
	fm := make(map[string]string)
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return fm, text
	}

	rest := text[strings.Index(text, "\n")+1:]
	endIdx := -1
	for _, marker := range []string{"\n---\n", "\n---\r\n"} {
		if i := strings.Index(rest, marker); i >= 0 {
			endIdx = i
			break
		}
	}
	if endIdx < 0 {
		if strings.HasSuffix(rest, "\n---") {
			endIdx = len(rest) - 4
		} else {
			return fm, text
		}
	}

	block := rest[:endIdx]
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if key != "" {
			fm[key] = val
		}
	}

	body := rest[endIdx:]
	if i := strings.Index(body[1:], "\n"); i >= 0 {
		body = body[i+2:]
	} else {
		body = ""
	}
	return fm, body
}
