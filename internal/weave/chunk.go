// Package weave implements the literate document preprocessor. It
// extracts tagged code chunks from markdown documents and either
// evaluates them against the shared environment (interactive mode) or
// serializes them to standalone pipeline scripts (build mode).
package weave

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChunkKind classifies an embedded code chunk.
type ChunkKind string

const (
	// KindGlobal chunks mutate the shared environment.
	KindGlobal ChunkKind = "globals"
	// KindTarget chunks produce target definitions.
	KindTarget ChunkKind = "targets"
)

// Chunk is one embedded code block. Chunks are transient: consumed
// during preprocessing, never persisted.
type Chunk struct {
	// Name identifies the chunk; unnamed chunks get chunk-<n>.
	Name string
	// Kind is globals or targets.
	Kind ChunkKind
	// Interactive overrides the document mode when set.
	Interactive *bool
	// Simple marks a single-expression chunk wrapped as one target.
	Simple bool
	// ScriptPath overrides the emitted script location.
	ScriptPath string
	// Code is the chunk body.
	Code string
	// Line is the 1-based line of the opening fence.
	Line int
}

// DocOptions are document-level options from YAML frontmatter.
type DocOptions struct {
	// Name overrides the document name used for script namespacing.
	Name string `yaml:"name"`
	// Interactive sets the default chunk mode for the document.
	Interactive *bool `yaml:"interactive"`
}

// Document is a scanned literate document.
type Document struct {
	Name    string
	Options DocOptions
	Chunks  []*Chunk
}

// fencePattern matches a loom chunk opening fence:
// ```{loom targets, name=fit, simple=true}
var fencePattern = regexp.MustCompile("^```\\{loom\\s+([a-z]+)\\s*(?:,\\s*(.*?))?\\s*\\}\\s*$")

// closePattern matches any closing fence.
var closePattern = regexp.MustCompile("^```\\s*$")

// knownOptions are the recognized chunk option keys.
var knownOptions = map[string]bool{
	"name":        true,
	"interactive": true,
	"simple":      true,
	"script":      true,
}

// ScanDocument extracts chunks from a literate document. name is the
// default document name (usually the file stem); frontmatter may
// override it.
func ScanDocument(name string, content []byte) (*Document, error) {
	doc := &Document{Name: name}

	body, opts, err := extractFrontmatter(content)
	if err != nil {
		return nil, err
	}
	doc.Options = opts
	if opts.Name != "" {
		doc.Name = opts.Name
	}

	var (
		current   *Chunk
		codeLines []string
		anonCount int
	)

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if current == nil {
			m := fencePattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			chunk, err := parseChunkHeader(m[1], m[2], lineNo)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
			}
			if chunk.Name == "" {
				anonCount++
				chunk.Name = fmt.Sprintf("chunk-%d", anonCount)
			}
			current = chunk
			codeLines = codeLines[:0]
			continue
		}

		if closePattern.MatchString(line) {
			current.Code = strings.Join(codeLines, "\n")
			doc.Chunks = append(doc.Chunks, current)
			current = nil
			continue
		}
		codeLines = append(codeLines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	if current != nil {
		return nil, fmt.Errorf("%s:%d: unterminated chunk %q", name, current.Line, current.Name)
	}

	return doc, nil
}

// parseChunkHeader parses the kind and option list of a chunk fence.
func parseChunkHeader(kind, optstr string, line int) (*Chunk, error) {
	chunk := &Chunk{Line: line}

	switch ChunkKind(kind) {
	case KindGlobal, KindTarget:
		chunk.Kind = ChunkKind(kind)
	default:
		return nil, fmt.Errorf("unknown chunk kind %q", kind)
	}

	if strings.TrimSpace(optstr) == "" {
		return chunk, nil
	}

	for _, opt := range strings.Split(optstr, ",") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		key, value, found := strings.Cut(opt, "=")
		if !found {
			return nil, fmt.Errorf("malformed chunk option %q", opt)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if !knownOptions[key] {
			return nil, fmt.Errorf("unknown chunk option %q", key)
		}

		switch key {
		case "name":
			chunk.Name = value
		case "script":
			chunk.ScriptPath = value
		case "simple":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("option simple: %w", err)
			}
			chunk.Simple = b
		case "interactive":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("option interactive: %w", err)
			}
			chunk.Interactive = &b
		}
	}
	return chunk, nil
}

// frontmatterPattern matches a leading --- ... --- YAML block.
var frontmatterPattern = regexp.MustCompile(`(?s)\A---\s*\n(.*?)\n---\s*\n`)

// extractFrontmatter splits YAML frontmatter from the document body.
func extractFrontmatter(content []byte) (string, DocOptions, error) {
	var opts DocOptions

	m := frontmatterPattern.FindSubmatch(content)
	if m == nil {
		return string(content), opts, nil
	}

	var raw struct {
		Loom DocOptions `yaml:"loom"`
	}
	if err := yaml.Unmarshal(m[1], &raw); err != nil {
		return "", opts, fmt.Errorf("invalid document frontmatter: %w", err)
	}

	body := string(content[len(m[0]):])
	return body, raw.Loom, nil
}
