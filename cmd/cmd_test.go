package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/assembler/internal/descriptor"
	"github.com/agentic-research/assembler/internal/issue"
	"github.com/agentic-research/assembler/internal/manifest"
)

func projectFiles() map[string]string {
	return map[string]string{
		"package.json":            `{"name": "dummy", "dependencies": {"my-addon": "*"}}`,
		"config/environment.json": `{"modulePrefix": "dummy", "locationType": "auto", "baseURL": "/"}`,
		"app/index.html":          "<head>{{content-for 'head'}}</head>\n",
		"app/app.js":              "export default 1;\n",
		"app/styles/app.css":      "body {}",
		"tests/index.html":        "<title>tests</title>\n",
		"tests/test-helper.js":    "export default 2;\n",

		"node_modules/my-addon/package.json":      `{"name": "my-addon", "keywords": ["ember-addon"]}`,
		"node_modules/my-addon/addon/index.js":    "export default 3;\n",
		"node_modules/my-addon/addon/my-addon.js": "export { default } from './index';\n",
	}
}

func memProject(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for p, content := range files {
		require.NoError(t, util.WriteFile(fs, p, []byte(content), 0o644))
	}
	return fs
}

func newSession(t *testing.T, files map[string]string) *session {
	t.Helper()
	t.Setenv("EMBER_ENV", "")
	t.Setenv("EMBER_CLI_TEST_COMMAND", "")
	s, err := loadProject(memProject(t, files), t.TempDir(), loadOptions{logger: log.New(io.Discard)})
	require.NoError(t, err)
	return s
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func TestLoadProject_MissingPackageJSON(t *testing.T) {
	_, err := loadProject(memfs.New(), "/nowhere", loadOptions{logger: log.New(io.Discard)})
	require.Error(t, err)

	var ae *issue.ActionableError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "load project", ae.Operation)
	assert.Equal(t, "/nowhere", ae.Resource)
	assert.NotEmpty(t, ae.Suggestions)
}

func TestLoadProject_ReadsBuildFile(t *testing.T) {
	t.Setenv("EMBER_ENV", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ember-cli-build.hcl"), []byte("name = \"renamed\"\ntests = false\n"), 0o644))

	s, err := loadProject(memProject(t, projectFiles()), dir, loadOptions{logger: log.New(io.Discard)})
	require.NoError(t, err)
	assert.Equal(t, "renamed", s.assembler.Name())
	assert.False(t, s.assembler.Settings().Tests)
}

func TestLoadProject_BrokenBuildFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ember-cli-build.hcl"), []byte("name = "), 0o644))

	_, err := loadProject(memProject(t, projectFiles()), dir, loadOptions{logger: log.New(io.Discard)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read build options")
}

func TestLoadProject_BadImportIsActionable(t *testing.T) {
	t.Setenv("EMBER_ENV", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ember-cli-build.hcl"), []byte(`import "vendor/lib/*.js" {}`+"\n"), 0o644))

	_, err := loadProject(memProject(t, projectFiles()), dir, loadOptions{logger: log.New(io.Discard)})
	require.Error(t, err)

	var ae *issue.ActionableError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "set up build", ae.Operation)
	assert.NotEmpty(t, ae.Suggestions)
}

func TestRunBuild_WritesOutputAndManifest(t *testing.T) {
	s := newSession(t, projectFiles())
	tmp := t.TempDir()
	dist := filepath.Join(tmp, "dist")
	db := filepath.Join(tmp, "manifest.db")

	require.NoError(t, os.MkdirAll(filepath.Join(dist, "stale"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "stale", "old.js"), []byte("old"), 0o644))

	var stdout bytes.Buffer
	require.NoError(t, runBuild(context.Background(), s, buildOptions{output: dist, manifest: db}, &stdout))
	assert.Contains(t, stdout.String(), "Built dummy (development)")

	data, err := os.ReadFile(filepath.Join(dist, "dummy", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "export default 1;\n", string(data))

	_, err = os.ReadFile(filepath.Join(dist, "my-addon", "index.js"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dist, "stale"))
	assert.True(t, os.IsNotExist(err))

	m, err := manifest.Open(db)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	files, err := m.Files("")
	require.NoError(t, err)
	assert.NotEmpty(t, files)

	descs, err := m.Descriptors()
	require.NoError(t, err)
	var names []string
	for _, d := range descs {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "dummy")
	assert.Contains(t, names, "my-addon")
}

func TestRunBuild_RefusesProjectRoot(t *testing.T) {
	s := newSession(t, projectFiles())

	err := runBuild(context.Background(), s, buildOptions{output: s.dir}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output directory is the project root")
}

func TestRunBuild_RefusesProjectParent(t *testing.T) {
	s := newSession(t, projectFiles())
	marker := filepath.Join(s.dir, "package.json")
	require.NoError(t, os.WriteFile(marker, []byte("{}"), 0o644))

	err := runBuild(context.Background(), s, buildOptions{output: filepath.Dir(s.dir)}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output directory contains the project root")

	_, err = os.Stat(marker)
	assert.NoError(t, err)
}

func TestCheckOutputDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "proj")
	tests := []struct {
		name    string
		dest    string
		wantErr string
	}{
		{name: "inside", dest: filepath.Join(root, "dist")},
		{name: "sibling", dest: filepath.Join(filepath.Dir(root), "dist")},
		{name: "sibling sharing a prefix", dest: root + "-dist"},
		{name: "root", dest: root, wantErr: "is the project root"},
		{name: "parent", dest: filepath.Dir(root), wantErr: "contains the project root"},
		{name: "grandparent", dest: filepath.Dir(filepath.Dir(root)), wantErr: "contains the project root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkOutputDir(tt.dest, root)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDescribeCache(t *testing.T) {
	s := newSession(t, projectFiles())
	c, err := s.assemble()
	require.NoError(t, err)

	var all bytes.Buffer
	require.NoError(t, describeCache(&all, c, ""))
	assert.Contains(t, all.String(), "dummy")
	assert.Contains(t, all.String(), "  [app]\n")
	assert.Contains(t, all.String(), "my-addon")

	var addons bytes.Buffer
	require.NoError(t, describeCache(&addons, c, descriptor.Addon))
	assert.Contains(t, addons.String(), "my-addon")
	assert.Contains(t, addons.String(), "  [addon]\n")
	assert.NotContains(t, addons.String(), "[app]")
}

func TestDescriptorRecords_TypeFilter(t *testing.T) {
	s := newSession(t, projectFiles())
	c, err := s.assemble()
	require.NoError(t, err)

	for _, rec := range descriptorRecords(c, descriptor.Addon) {
		m := rec.(map[string]any)
		assert.Contains(t, m["types"], "addon", m["key"])
	}
	assert.Equal(t, []any{}, descriptorRecords(c, descriptor.Dist))
}

func TestParseType(t *testing.T) {
	typ, err := parseType("")
	require.NoError(t, err)
	assert.Equal(t, descriptor.Type(""), typ)

	typ, err = parseType("vendor")
	require.NoError(t, err)
	assert.Equal(t, descriptor.Vendor, typ)

	_, err = parseType("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown tree type "bogus"`)
}

func TestCatalog_ListDescriptors(t *testing.T) {
	s := newSession(t, projectFiles())
	_, err := s.assemble()
	require.NoError(t, err)
	c := &catalog{session: s}

	res, err := c.listDescriptors(context.Background(), toolRequest("list_descriptors", map[string]any{"type": "addon"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"key":"my-addon"`)

	res, err = c.listDescriptors(context.Background(), toolRequest("list_descriptors", map[string]any{"type": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCatalog_DescribeDescriptor(t *testing.T) {
	s := newSession(t, projectFiles())
	_, err := s.assemble()
	require.NoError(t, err)
	c := &catalog{session: s}

	res, err := c.describeDescriptor(context.Background(), toolRequest("describe_descriptor", map[string]any{"key": "my-addon"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, res), "my-addon"))

	res, err = c.describeDescriptor(context.Background(), toolRequest("describe_descriptor", map[string]any{"key": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = c.describeDescriptor(context.Background(), toolRequest("describe_descriptor", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCatalog_ListOutput(t *testing.T) {
	s := newSession(t, projectFiles())
	c := &catalog{session: s}

	res, err := c.listOutput(context.Background(), toolRequest("list_output", map[string]any{"prefix": "/my-addon/"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := resultText(t, res)
	assert.Contains(t, text, "my-addon/index.js\t")
	assert.NotContains(t, text, "dummy/")

	res, err = c.listOutput(context.Background(), toolRequest("list_output", map[string]any{"prefix": "nothing-here/"}))
	require.NoError(t, err)
	assert.Equal(t, "no files", resultText(t, res))
}

func TestPreview_ServesAndRebuilds(t *testing.T) {
	s := newSession(t, projectFiles())

	p, err := startPreview(context.Background(), s, "localhost:0")
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	assert.Greater(t, p.Port(), 0)

	_, err = p.fs.Stat("/my-addon/index.js")
	require.NoError(t, err)

	files := projectFiles()
	files["app/routes/new.js"] = "export default 4;\n"
	require.NoError(t, p.rebuild(context.Background(), newSession(t, files)))
	assert.Equal(t, 2, p.live.Generation())

	info, err := p.fs.Stat("/dummy/routes/new.js")
	require.NoError(t, err)
	assert.Equal(t, int64(len("export default 4;\n")), info.Size())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout bytes.Buffer
	require.NoError(t, p.wait(ctx, &stdout, ""))
	assert.Contains(t, stdout.String(), "NFS preview on ")
	assert.Contains(t, stdout.String(), fmt.Sprintf(":%d\n", p.Port()))
}

func TestPreview_FailedRebuildKeepsOutput(t *testing.T) {
	s := newSession(t, projectFiles())
	p, err := startPreview(context.Background(), s, "localhost:0")
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	signals := make(chan os.Signal, 1)
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		p.rebuildOn(ctx, signals, func() (*session, error) {
			defer close(done)
			return nil, errors.New("broken package.json")
		})
	}()
	signals <- os.Interrupt
	<-done
	cancel()

	assert.Equal(t, 1, p.live.Generation())
	_, err = p.fs.Stat("/dummy/app.js")
	assert.NoError(t, err)
}
