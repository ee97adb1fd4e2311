package analyze

import (
	"reflect"
	"testing"
)

func TestDependencies_LiteralRefs(t *testing.T) {
	deps, err := Dependencies(`fit_model(read_target("clean"), read_target("params"))`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"clean", "params"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("got %v, want %v", deps, want)
	}
}

func TestDependencies_LoadTarget(t *testing.T) {
	deps, err := Dependencies(`summarize(load_target('raw'))`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 1 || deps[0] != "raw" {
		t.Errorf("got %v, want [raw]", deps)
	}
}

func TestDependencies_DuplicatesCollapse(t *testing.T) {
	deps, err := Dependencies(`join(read_target("a"), read_target("a"))`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 1 {
		t.Errorf("duplicate refs should collapse, got %v", deps)
	}
}

func TestDependencies_DynamicRefsExcluded(t *testing.T) {
	cases := []string{
		`read_target(name)`,
		`read_target("pre" + suffix)`,
		`read_target(pick())`,
	}
	for _, cmd := range cases {
		deps, err := Dependencies(cmd)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", cmd, err)
		}
		if len(deps) != 0 {
			t.Errorf("%s: dynamic ref should be excluded, got %v", cmd, deps)
		}
	}
}

func TestDependencies_NestedCalls(t *testing.T) {
	deps, err := Dependencies(`wrap([read_target("x")], {"k": read_target("y")})`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"x", "y"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("got %v, want %v", deps, want)
	}
}

func TestDependencies_NoRefs(t *testing.T) {
	deps, err := Dependencies(`1 + 2`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("expected no deps, got %v", deps)
	}
}

func TestDependencies_ParseError(t *testing.T) {
	_, err := Dependencies(`read_target("a"`)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Errorf("expected *ParseError, got %T", err)
	}
}

func TestScriptDependencies(t *testing.T) {
	src := []byte(`
x = read_target("alpha")
def helper():
    return load_target("beta")
y = read_target(dynamic)
`)
	deps, err := ScriptDependencies("globals.star", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"alpha", "beta"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("got %v, want %v", deps, want)
	}
}
