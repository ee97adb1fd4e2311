package weave

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	star "github.com/loomworks/loom/internal/starlark"
)

// Mode selects how chunks are consumed.
type Mode int

const (
	// ModeInteractive evaluates chunks against the shared environment
	// as they are read, so their results are immediately inspectable.
	ModeInteractive Mode = iota
	// ModeBuild serializes target chunks to scripts for the engine to
	// run later.
	ModeBuild
)

// Result reports what a preprocessing pass produced.
type Result struct {
	// Documents processed, in order.
	Documents []string
	// Scripts emitted, relative to the scripts directory. Empty in
	// interactive mode.
	Scripts []string
	// Pipeline is the path of the generated top-level script. Empty
	// in interactive mode.
	Pipeline string
	// Chunks is the total number of chunks consumed.
	Chunks int
}

// Preprocessor turns literate documents into environment state and,
// in build mode, pipeline scripts.
type Preprocessor struct {
	env        *star.Env
	mode       Mode
	scriptsDir string
	logger     *slog.Logger

	result  Result
	prelude string
	// emitted buffers per-document globals during a pass.
	globalsBuf map[string][]string
}

// NewPreprocessor returns a preprocessor writing scripts under
// scriptsDir when mode is ModeBuild.
func NewPreprocessor(env *star.Env, mode Mode, scriptsDir string, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Preprocessor{
		env:        env,
		mode:       mode,
		scriptsDir: scriptsDir,
		logger:     logger,
		globalsBuf: make(map[string][]string),
	}
}

// SetPrelude makes the generated pipeline script include another
// script first, typically the project's main pipeline, so chunk
// targets can reference its targets.
func (p *Preprocessor) SetPrelude(path string) {
	p.prelude = path
}

// ProcessFile scans and processes one document from disk.
func (p *Preprocessor) ProcessFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return p.Process(name, content)
}

// Process scans and processes one document.
func (p *Preprocessor) Process(name string, content []byte) error {
	doc, err := ScanDocument(name, content)
	if err != nil {
		return err
	}
	p.result.Documents = append(p.result.Documents, doc.Name)

	for _, chunk := range doc.Chunks {
		if err := p.processChunk(doc, chunk); err != nil {
			return fmt.Errorf("%s: chunk %q: %w", doc.Name, chunk.Name, err)
		}
		p.result.Chunks++
	}
	return nil
}

// Finish flushes buffered globals and, in build mode, writes the
// top-level pipeline script referencing every emitted chunk script.
func (p *Preprocessor) Finish() (*Result, error) {
	if p.mode != ModeBuild {
		r := p.result
		return &r, nil
	}

	// Globals run before any target script, in document order.
	var globalScripts []string
	for _, doc := range p.result.Documents {
		lines, ok := p.globalsBuf[doc]
		if !ok {
			continue
		}
		rel := filepath.Join(doc, "globals.star")
		src := strings.Join(lines, "\n\n") + "\n"
		if err := p.writeScript(rel, src); err != nil {
			return nil, err
		}
		globalScripts = append(globalScripts, rel)
	}
	p.result.Scripts = append(globalScripts, p.result.Scripts...)

	var b strings.Builder
	b.WriteString("# Generated by loom weave. Do not edit.\n\n")
	if p.prelude != "" {
		fmt.Fprintf(&b, "include(%q)\n", filepath.ToSlash(p.prelude))
	}
	for _, rel := range p.result.Scripts {
		fmt.Fprintf(&b, "include(%q)\n", filepath.ToSlash(rel))
	}

	path := filepath.Join(p.scriptsDir, "_pipeline.star")
	if err := os.MkdirAll(p.scriptsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scripts directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write pipeline script: %w", err)
	}
	p.result.Pipeline = path

	r := p.result
	return &r, nil
}

func (p *Preprocessor) processChunk(doc *Document, chunk *Chunk) error {
	interactive := p.mode == ModeInteractive
	if doc.Options.Interactive != nil {
		interactive = *doc.Options.Interactive
	}
	if chunk.Interactive != nil {
		interactive = *chunk.Interactive
	}

	code := chunk.Code
	if chunk.Simple {
		var err error
		code, err = wrapSimple(chunk)
		if err != nil {
			return err
		}
	}

	p.env.SetOrigin(doc.Name, chunk.Name)
	filename := fmt.Sprintf("%s#%s", doc.Name, chunk.Name)

	prev := p.env.IsInteractive()
	p.env.SetInteractive(interactive)
	defer p.env.SetInteractive(prev)

	switch chunk.Kind {
	case KindGlobal:
		// Globals always execute so later chunks can see them.
		if err := p.env.ExecScript(filename, []byte(code)); err != nil {
			return err
		}
		if p.mode == ModeBuild {
			p.globalsBuf[doc.Name] = append(p.globalsBuf[doc.Name], code)
		}
		return nil

	case KindTarget:
		if interactive {
			return p.env.ExecScript(filename, []byte(code))
		}
		if err := p.env.ExecScript(filename, []byte(code)); err != nil {
			return err
		}
		rel := chunk.ScriptPath
		if rel == "" {
			rel = filepath.Join(doc.Name, chunk.Name+".star")
		}
		if err := p.writeScript(rel, code+"\n"); err != nil {
			return err
		}
		p.result.Scripts = append(p.result.Scripts, rel)
		p.logger.Debug("emitted chunk script", "document", doc.Name, "chunk", chunk.Name, "script", rel)
		return nil

	default:
		return fmt.Errorf("unknown chunk kind %q", chunk.Kind)
	}
}

func (p *Preprocessor) writeScript(rel, src string) error {
	path := filepath.Join(p.scriptsDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create script directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	return nil
}

// wrapSimple turns a single-expression chunk into a target definition
// named after the chunk.
func wrapSimple(chunk *Chunk) (string, error) {
	expr := strings.TrimSpace(chunk.Code)
	if expr == "" {
		return "", fmt.Errorf("simple chunk has no expression")
	}
	if strings.Contains(expr, `"""`) {
		return "", fmt.Errorf("simple chunk must not contain triple quotes")
	}
	if strings.Count(expr, "\n") > 0 {
		return "", fmt.Errorf("simple chunk must be a single expression")
	}
	return fmt.Sprintf("target(\n    name = %q,\n    command = \"\"\"%s\"\"\",\n)", chunk.Name, expr), nil
}
