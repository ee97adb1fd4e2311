// Package analyze provides static dependency extraction for target
// commands. It walks the Starlark AST of a command expression and
// collects the names of targets read through read_target or
// load_target calls, without executing anything.
package analyze

import (
	"path/filepath"
	"sort"

	"go.starlark.net/syntax"
)

// readerFuncs are the builtins whose first argument names an upstream
// target. Only string-literal arguments are statically resolvable;
// computed arguments are ignored because they cannot be resolved
// without execution.
var readerFuncs = map[string]bool{
	"read_target": true,
	"load_target": true,
}

// Dependencies extracts the set of target names a command expression
// reads. Duplicate references collapse to one entry; results are
// sorted. A syntax error in the command is returned to the caller.
func Dependencies(command string) ([]string, error) {
	expr, err := syntax.ParseExpr("command", command, 0)
	if err != nil {
		return nil, &ParseError{Message: err.Error()}
	}
	return collectRefs(expr), nil
}

// ScriptDependencies extracts reader references from a whole Starlark
// script (e.g. a global chunk), using the same static rules as
// Dependencies.
func ScriptDependencies(filename string, src []byte) ([]string, error) {
	f, err := syntax.Parse(filename, src, 0)
	if err != nil {
		return nil, &ParseError{File: filename, Message: err.Error()}
	}
	seen := make(map[string]bool)
	var refs []string
	for _, stmt := range f.Stmts {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			if name, ok := literalReadRef(n); ok && !seen[name] {
				seen[name] = true
				refs = append(refs, name)
			}
			return true
		})
	}
	sort.Strings(refs)
	return refs, nil
}

// collectRefs walks an expression tree for reader calls.
func collectRefs(expr syntax.Expr) []string {
	seen := make(map[string]bool)
	var refs []string
	syntax.Walk(expr, func(n syntax.Node) bool {
		if name, ok := literalReadRef(n); ok && !seen[name] {
			seen[name] = true
			refs = append(refs, name)
		}
		return true
	})
	sort.Strings(refs)
	return refs
}

// literalReadRef reports whether n is a reader call with a
// string-literal first argument, returning the referenced name.
func literalReadRef(n syntax.Node) (string, bool) {
	call, ok := n.(*syntax.CallExpr)
	if !ok {
		return "", false
	}
	ident, ok := call.Fn.(*syntax.Ident)
	if !ok || !readerFuncs[ident.Name] {
		return "", false
	}
	if len(call.Args) == 0 {
		return "", false
	}
	lit, ok := call.Args[0].(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		// Dynamic reference form: skipped on purpose.
		return "", false
	}
	s, ok := lit.Value.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ParseError represents a syntax error in a command or script.
type ParseError struct {
	File    string
	Message string
}

func (e *ParseError) Error() string {
	if e.File == "" {
		return "parse command: " + e.Message
	}
	return "parse " + filepath.Base(e.File) + ": " + e.Message
}
