package es3safe

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/assembler/internal/tree"
)

func TestRewrite(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"member", "exports.default = foo;", `exports["default"] = foo;`},
		{"chained", "promise.catch(a).finally(b);", `promise["catch"](a)["finally"](b);`},
		{"object key", "var o = { default: 1, other: 2 };", `var o = { "default": 1, other: 2 };`},
		{"plain names untouched", "a.b.c = d;", "a.b.c = d;"},
		{"strings untouched", `var s = "x.default";`, `var s = "x.default";`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Rewrite([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRewrite_BrokenSourceUnchanged(t *testing.T) {
	src := []byte("exports.default = function( {")
	got, err := Rewrite(src)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestTree(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "app/app.js", []byte("module.default = 1;"), 0o644))
	require.NoError(t, util.WriteFile(fs, "app/notes.txt", []byte("module.default"), 0o644))

	out, err := tree.NewBuilder(fs).Build(context.Background(), Tree(tree.Source("app")))
	require.NoError(t, err)

	js, err := out.ReadFile("app.js")
	require.NoError(t, err)
	assert.Equal(t, `module["default"] = 1;`, string(js))

	txt, err := out.ReadFile("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "module.default", string(txt))
}
