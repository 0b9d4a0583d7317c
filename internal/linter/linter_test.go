package linter

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/assembler/internal/tree"
)

func TestLint_Clean(t *testing.T) {
	diags, err := Lint([]byte("export default function add(a, b) {\n  return a + b;\n}\n"), "js")
	require.NoError(t, err)
	assert.Empty(t, diags)
}

func TestLint_Debugger(t *testing.T) {
	src := "function f() {\n  debugger;\n  return 1;\n}\n"
	diags, err := Lint([]byte(src), "app/f.js")
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, uint32(1), diags[0].Line)
	assert.Equal(t, "line 2: Forgotten 'debugger' statement.", diags[0].String())
}

func TestLint_SyntaxError(t *testing.T) {
	diags, err := Lint([]byte("function f( {\n"), "js")
	require.NoError(t, err)
	assert.NotEmpty(t, diags)
}

func TestLint_OtherLanguages(t *testing.T) {
	diags, err := Lint([]byte("not { valid"), "styles/app.css")
	require.NoError(t, err)
	assert.Nil(t, diags)
}

func TestTestModule(t *testing.T) {
	assert.Equal(t,
		"QUnit.module(\"Lint | components\");\n"+
			"QUnit.test(\"components/foo.js should pass lint\", function(assert) {\n"+
			"  assert.expect(1);\n"+
			"  assert.ok(true, \"components/foo.js should pass lint.\");\n"+
			"});\n",
		TestModule("components/foo.js", nil))

	failing := TestModule("app.js", []Diagnostic{{Message: "Forgotten 'debugger' statement.", Line: 4}})
	assert.Contains(t, failing, `assert.ok(false, "app.js should pass lint.\nline 5: Forgotten 'debugger' statement.");`)
}

func TestLinter_LintTree(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "app/app.js", []byte("var a = 1;\n"), 0o644))
	require.NoError(t, util.WriteFile(fs, "app/routes/index.js", []byte("debugger;\n"), 0o644))
	require.NoError(t, util.WriteFile(fs, "app/templates/application.hbs", []byte("{{outlet}}"), 0o644))

	lt := New().LintTree("app", tree.Source("app"))
	assert.Equal(t, "Lint (app)", lt.Meta().Description)

	out, err := tree.NewBuilder(fs).Build(context.Background(), lt)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.js.lint-test.js", "routes/index.js.lint-test.js"}, out.Files())

	data, err := out.ReadFile("routes/index.js.lint-test.js")
	require.NoError(t, err)
	assert.Contains(t, string(data), "assert.ok(false")
}
