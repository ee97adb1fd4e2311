package starlark

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loomworks/loom/internal/pipeline"
	"go.starlark.net/starlark"
)

// ParamTableValue wraps a parameter table as a Starlark value.
type ParamTableValue struct {
	Table *pipeline.ParamTable
}

func (p *ParamTableValue) String() string {
	return fmt.Sprintf("param_table(%d rows)", p.Table.Len())
}
func (p *ParamTableValue) Type() string          { return "param_table" }
func (p *ParamTableValue) Freeze()               {}
func (p *ParamTableValue) Truth() starlark.Bool  { return p.Table.Len() > 0 }
func (p *ParamTableValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: param_table") }

// builtinTarget implements target(name, command, format="value", deps=[]).
// Non-interactive: registers a definition and returns None.
// Interactive: evaluates the command immediately, binds the value
// under the target name, and returns it.
func (e *Env) builtinTarget(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, command, format string
	var deps *starlark.List
	format = string(pipeline.FormatValue)
	if err := starlark.UnpackArgs("target", args, kwargs,
		"name", &name, "command", &command, "format?", &format, "deps?", &deps); err != nil {
		return nil, err
	}

	doc, chunk := e.origin()
	t := &pipeline.Target{
		Name:    name,
		Command: command,
		Format:  pipeline.Format(format),
		Deps:    stringList(deps),
		Doc:     doc,
		Chunk:   chunk,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if e.interactive {
		v, err := e.EvalExpr(name, command, nil)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", name, err)
		}
		e.Bind(name, v)
		return v, nil
	}

	if err := e.registry.Add(t); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// builtinBranchOver implements
// branch_over(name, table, command, batches=1, format="value",
// deps=[], placeholder=None). The table may be a param_table value, a
// list of dicts, or the name of a target holding rows. A placeholder
// stands in when the named table target is unavailable in an
// interactive session.
func (e *Env) builtinBranchOver(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, command, format string
	var table, placeholder starlark.Value
	var deps *starlark.List
	batches := 1
	format = string(pipeline.FormatValue)
	if err := starlark.UnpackArgs("branch_over", args, kwargs,
		"name", &name, "table", &table, "command", &command,
		"batches?", &batches, "format?", &format, "deps?", &deps,
		"placeholder?", &placeholder); err != nil {
		return nil, err
	}

	pt, err := e.resolveTable(table, placeholder)
	if err != nil {
		return nil, fmt.Errorf("branch_over %q: %w", name, err)
	}

	doc, chunk := e.origin()
	base := &pipeline.Target{
		Name:    name,
		Command: command,
		Format:  pipeline.Format(format),
		Deps:    stringList(deps),
		Doc:     doc,
		Chunk:   chunk,
	}

	subs, err := pipeline.ExpandBranches(base, pt, batches)
	if err != nil {
		return nil, err
	}

	if e.interactive {
		results := make([]starlark.Value, 0, len(subs))
		for _, sub := range subs {
			params, err := GoToStarlark(sub.Branch.Rows)
			if err != nil {
				return nil, fmt.Errorf("branch %q: %w", sub.Name, err)
			}
			v, err := e.EvalExpr(sub.Name, sub.Command, starlark.StringDict{"params": params})
			if err != nil {
				return nil, fmt.Errorf("branch %q: %w", sub.Name, err)
			}
			e.Bind(sub.Name, v)
			results = append(results, v)
		}
		combined := starlark.NewList(results)
		e.Bind(name, combined)
		return combined, nil
	}

	for _, sub := range subs {
		if err := e.registry.Add(sub); err != nil {
			return nil, err
		}
	}
	return starlark.None, nil
}

// builtinParamTable implements param_table(csv=path) and
// param_table(rows=[{...}, ...]).
func (e *Env) builtinParamTable(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var csvPath string
	var rows *starlark.List
	if err := starlark.UnpackArgs("param_table", args, kwargs,
		"csv?", &csvPath, "rows?", &rows); err != nil {
		return nil, err
	}

	switch {
	case csvPath != "" && rows != nil:
		return nil, fmt.Errorf("param_table: csv and rows are mutually exclusive")
	case csvPath != "":
		table, err := pipeline.LoadParamCSV(csvPath)
		if err != nil {
			return nil, err
		}
		return &ParamTableValue{Table: table}, nil
	case rows != nil:
		table, err := tableFromList(rows)
		if err != nil {
			return nil, err
		}
		return &ParamTableValue{Table: table}, nil
	default:
		return nil, fmt.Errorf("param_table: csv or rows required")
	}
}

// builtinReadTarget implements read_target(name) and load_target(name).
func (e *Env) builtinReadTarget(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs("read_target", args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	return e.resolve(name)
}

// builtinInclude implements include(path): executes another pipeline
// script, resolved against the env base directory, in this env.
func (e *Env) builtinInclude(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs("include", args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	full := path
	if e.baseDir != "" && !filepath.IsAbs(path) {
		full = filepath.Join(e.baseDir, path)
	}
	src, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("include %s: %w", path, err)
	}
	if err := e.ExecScript(path, src); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// resolveTable turns the table argument of branch_over into a
// ParamTable, falling back to the placeholder when a named table
// target is unavailable.
func (e *Env) resolveTable(table, placeholder starlark.Value) (*pipeline.ParamTable, error) {
	switch v := table.(type) {
	case *ParamTableValue:
		return v.Table, nil

	case *starlark.List:
		return tableFromList(v)

	case starlark.String:
		resolved, err := e.resolve(string(v))
		if err == nil {
			return tableFromValue(resolved)
		}
		if placeholder != nil && placeholder != starlark.None {
			return tableFromValue(placeholder)
		}
		return nil, err

	default:
		return nil, fmt.Errorf("table must be a param_table, a list of dicts, or a target name, got %s", table.Type())
	}
}

// tableFromValue accepts an already-resolved table-like value.
func tableFromValue(v starlark.Value) (*pipeline.ParamTable, error) {
	switch t := v.(type) {
	case *ParamTableValue:
		return t.Table, nil
	case *starlark.List:
		return tableFromList(t)
	default:
		return nil, fmt.Errorf("expected a table of rows, got %s", v.Type())
	}
}

// tableFromList builds a ParamTable from a Starlark list of dicts.
// Columns come from the first row in insertion order.
func tableFromList(list *starlark.List) (*pipeline.ParamTable, error) {
	var columns []string
	var rows []map[string]any

	it := list.Iterate()
	defer it.Done()
	var item starlark.Value
	for it.Next(&item) {
		d, ok := item.(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("table rows must be dicts, got %s", item.Type())
		}
		row, cols, err := DictToRow(d)
		if err != nil {
			return nil, err
		}
		if columns == nil {
			columns = cols
		}
		rows = append(rows, row)
	}

	return pipeline.NewParamTable(columns, rows)
}

// stringList converts a Starlark list of strings.
func stringList(list *starlark.List) []string {
	if list == nil {
		return nil
	}
	out := make([]string, 0, list.Len())
	it := list.Iterate()
	defer it.Done()
	var item starlark.Value
	for it.Next(&item) {
		if s, ok := item.(starlark.String); ok {
			out = append(out, string(s))
		}
	}
	return out
}
