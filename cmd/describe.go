package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/assembler/internal/cache"
	"github.com/agentic-research/assembler/internal/config"
	"github.com/agentic-research/assembler/internal/descriptor"
	"github.com/agentic-research/assembler/internal/tree"
)

var (
	describeType string
	describeJSON bool
)

var describeCmd = &cobra.Command{
	Use:   "describe [project]",
	Short: "List the assembled descriptors and their tree graphs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := parseType(describeType)
		if err != nil {
			return err
		}
		s, err := openProject(loadOptions{
			dir:        argOr(args, "."),
			configPath: configPath,
			flags:      cmd.Flags(),
			logger:     newLogger(cmd.ErrOrStderr(), "describe"),
		})
		if err != nil {
			return err
		}
		c, err := s.assemble()
		if err != nil {
			return err
		}
		if describeJSON {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), config.JSON(descriptorRecords(c, typ)))
			return err
		}
		return describeCache(cmd.OutOrStdout(), c, typ)
	},
}

func init() {
	describeCmd.Flags().StringVarP(&describeType, "type", "t", "", "only show this tree type")
	describeCmd.Flags().BoolVar(&describeJSON, "json", false, "print the descriptor list as JSON")
	describeCmd.Flags().StringP("environment", "e", "", "build environment")
	rootCmd.AddCommand(describeCmd)
}

// describeCache prints every descriptor with the tree graph of each slot. A
// non-empty typ restricts the output to that slot.
func describeCache(w io.Writer, c *cache.Cache, typ descriptor.Type) error {
	for _, key := range c.Keys() {
		d, ok := c.Get(key)
		if !ok || (typ != "" && !d.Has(typ)) {
			continue
		}
		if _, err := fmt.Fprint(w, describeDescriptor(key, d, typ)); err != nil {
			return err
		}
	}
	return nil
}

func describeDescriptor(key string, d *descriptor.Descriptor, typ descriptor.Type) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", key)
	if d.PackageName != "" && d.PackageName != key {
		fmt.Fprintf(&b, " (%s)", d.PackageName)
	}
	if d.Root != "" {
		fmt.Fprintf(&b, " %s", d.Root)
	}
	b.WriteString("\n")
	for _, t := range d.Types() {
		if typ != "" && t != typ {
			continue
		}
		fmt.Fprintf(&b, "  [%s]\n", t)
		for _, line := range strings.Split(strings.TrimRight(tree.Describe(d.Tree(t)), "\n"), "\n") {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
