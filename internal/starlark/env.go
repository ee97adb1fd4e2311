// Package starlark provides the shared evaluation environment for
// pipeline scripts, literate chunks, and target commands.
package starlark

import (
	"fmt"
	"sync"

	"github.com/loomworks/loom/internal/pipeline"
	"go.starlark.net/starlark"
)

// Reader resolves a target name to its stored result. The second
// return reports whether a result exists.
type Reader interface {
	Read(name string) (any, bool, error)
}

// Env is the shared execution environment. Global chunks mutate it;
// interactive target chunks bind their results into it; in
// non-interactive mode target() calls register definitions into the
// registry instead.
type Env struct {
	mu          sync.Mutex
	globals     starlark.StringDict
	session     map[string]starlark.Value // target name -> interactive result
	envName     string
	reader      Reader
	registry    *pipeline.Registry
	interactive bool
	baseDir     string
	doc         string
	chunk       string
	pool        *ThreadPool
}

// Option configures an Env.
type Option func(*Env)

// WithEnvName sets the environment name exposed as the env global.
func WithEnvName(name string) Option {
	return func(e *Env) { e.envName = name }
}

// WithReader sets the stored-result resolver for read_target.
func WithReader(r Reader) Option {
	return func(e *Env) { e.reader = r }
}

// WithBaseDir sets the directory include() resolves paths against.
func WithBaseDir(dir string) Option {
	return func(e *Env) { e.baseDir = dir }
}

// WithRegistry sets the sink for target definitions.
func WithRegistry(r *pipeline.Registry) Option {
	return func(e *Env) { e.registry = r }
}

// Interactive switches the env into interactive mode: target() calls
// evaluate immediately and bind their values instead of registering
// definitions.
func Interactive() Option {
	return func(e *Env) { e.interactive = true }
}

// NewEnv creates a new shared environment.
func NewEnv(opts ...Option) *Env {
	e := &Env{
		globals: make(starlark.StringDict),
		session: make(map[string]starlark.Value),
		envName: "dev",
		pool:    NewThreadPool(8),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = pipeline.NewRegistry()
	}
	return e
}

// Registry returns the registry receiving target definitions.
func (e *Env) Registry() *pipeline.Registry {
	return e.registry
}

// SetOrigin records the document and chunk that subsequent target
// definitions come from.
func (e *Env) SetOrigin(doc, chunk string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc = doc
	e.chunk = chunk
}

// IsInteractive reports whether the env evaluates targets immediately.
func (e *Env) IsInteractive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interactive
}

// SetInteractive switches target() semantics for subsequent scripts.
// Chunks may override the session mode per chunk.
func (e *Env) SetInteractive(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interactive = v
}

// ExecScript executes a Starlark script (a pipeline script or a
// global chunk) and merges its bindings into the shared environment.
func (e *Env) ExecScript(filename string, src []byte) error {
	thread := e.pool.Get(filename)
	defer e.pool.Put(thread)

	globals, err := starlark.ExecFile(thread, filename, src, e.predeclared(nil))
	if err != nil {
		return fmt.Errorf("exec %s: %w", filename, err)
	}

	e.mu.Lock()
	for name, value := range globals {
		e.globals[name] = value
	}
	e.mu.Unlock()
	return nil
}

// EvalExpr evaluates a single expression with optional extra globals
// (e.g. the params binding for a branch sub-target).
func (e *Env) EvalExpr(name, expr string, extra starlark.StringDict) (starlark.Value, error) {
	thread := e.pool.Get(name)
	defer e.pool.Put(thread)

	v, err := starlark.Eval(thread, name, expr, e.predeclared(extra)) //nolint:staticcheck // SA1019: Eval still supported for single expressions
	if err != nil {
		return nil, fmt.Errorf("eval %s: %w", name, err)
	}
	return v, nil
}

// Bind stores a value under a target name in the session.
func (e *Env) Bind(name string, v starlark.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session[name] = v
}

// Lookup returns a session binding by target name.
func (e *Env) Lookup(name string) (starlark.Value, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.session[name]
	return v, ok
}

// Session returns a copy of the interactive target bindings.
func (e *Env) Session() map[string]starlark.Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]starlark.Value, len(e.session))
	for k, v := range e.session {
		out[k] = v
	}
	return out
}

// Globals returns a copy of the current shared bindings.
func (e *Env) Globals() starlark.StringDict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(starlark.StringDict, len(e.globals))
	for k, v := range e.globals {
		out[k] = v
	}
	return out
}

// predeclared builds the evaluation environment: builtins, the env
// name, accumulated globals, and per-eval extras.
func (e *Env) predeclared(extra starlark.StringDict) starlark.StringDict {
	e.mu.Lock()
	defer e.mu.Unlock()

	dict := starlark.StringDict{
		"env":         starlark.String(e.envName),
		"target":      starlark.NewBuiltin("target", e.builtinTarget),
		"branch_over": starlark.NewBuiltin("branch_over", e.builtinBranchOver),
		"param_table": starlark.NewBuiltin("param_table", e.builtinParamTable),
		"read_target": starlark.NewBuiltin("read_target", e.builtinReadTarget),
		"load_target": starlark.NewBuiltin("load_target", e.builtinReadTarget),
		"include":     starlark.NewBuiltin("include", e.builtinInclude),
	}
	for k, v := range e.globals {
		dict[k] = v
	}
	for k, v := range extra {
		dict[k] = v
	}
	return dict
}

// origin returns the current document and chunk under the lock.
func (e *Env) origin() (string, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc, e.chunk
}

// resolve finds a target's value: session bindings first, then the
// stored-result reader.
func (e *Env) resolve(name string) (starlark.Value, error) {
	if v, ok := e.Lookup(name); ok {
		return v, nil
	}
	if e.reader != nil {
		value, ok, err := e.reader.Read(name)
		if err != nil {
			return nil, err
		}
		if ok {
			return GoToStarlark(value)
		}
	}
	if e.interactive {
		return nil, fmt.Errorf("target %q is not available in this session; bind a stand-in value first", name)
	}
	return nil, fmt.Errorf("target %q has no stored result; run the pipeline first", name)
}
