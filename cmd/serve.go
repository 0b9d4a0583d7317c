package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/agentic-research/assembler/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve [project]",
	Short: "Expose the assembled descriptors over MCP (stdio)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openProject(loadOptions{
			dir:        argOr(args, "."),
			configPath: configPath,
			flags:      cmd.Flags(),
			logger:     newLogger(cmd.ErrOrStderr(), "serve"),
		})
		if err != nil {
			return err
		}
		if _, err := s.assemble(); err != nil {
			return err
		}
		s.logger.Info("serving over stdio", "project", s.assembler.Name(), "descriptors", s.assembler.Cache().Len())
		return server.ServeStdio(newMCPServer(s))
	},
}

func init() {
	serveCmd.Flags().StringP("environment", "e", "", "build environment")
	rootCmd.AddCommand(serveCmd)
}

// catalog answers MCP tool calls from an assembled session. The output tree
// is built on the first list_output call.
type catalog struct {
	session *session
}

func newMCPServer(s *session) *server.MCPServer {
	srv := server.NewMCPServer(
		"assembler",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	c := &catalog{session: s}

	srv.AddTool(mcp.NewTool("list_descriptors",
		mcp.WithDescription("List the descriptors of the assembled project with their tree types."),
		mcp.WithString("type", mcp.Description("Only list descriptors carrying this tree type, e.g. app, addon, vendor.")),
	), c.listDescriptors)

	srv.AddTool(mcp.NewTool("describe_descriptor",
		mcp.WithDescription("Show the tree graph of every slot of one descriptor."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Descriptor key, as returned by list_descriptors.")),
		mcp.WithString("type", mcp.Description("Only describe this tree type.")),
	), c.describeDescriptor)

	srv.AddTool(mcp.NewTool("list_output",
		mcp.WithDescription("Build the project and list the output files with the descriptor slot that emitted each."),
		mcp.WithString("prefix", mcp.Description("Only list paths under this directory, e.g. dummy/ or vendor/.")),
	), c.listOutput)

	return srv
}

func (c *catalog) listDescriptors(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := parseType(req.GetString("type", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(config.JSON(descriptorRecords(c.session.assembler.Cache(), typ))), nil
}

func (c *catalog) describeDescriptor(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := parseType(req.GetString("type", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, ok := c.session.assembler.Cache().Get(key)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no descriptor %q", key)), nil
	}
	if typ != "" && !d.Has(typ) {
		return mcp.NewToolResultError(fmt.Sprintf("descriptor %q has no %s tree", key, typ)), nil
	}
	return mcp.NewToolResultText(describeDescriptor(key, d, typ)), nil
}

func (c *catalog) listOutput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix := strings.TrimPrefix(req.GetString("prefix", ""), "/")

	out, err := c.session.build(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	for _, p := range out.Files() {
		if prefix != "" && !strings.HasPrefix(p, prefix) {
			continue
		}
		n, err := out.GetNode(p)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s\t%s\n", p, originOrDash(n.Origin))
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("no files"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func originOrDash(origin string) string {
	if origin == "" {
		return "-"
	}
	return origin
}
