package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/assembler/internal/issue"
	"github.com/agentic-research/assembler/internal/manifest"
	"github.com/agentic-research/assembler/internal/tree"
)

var (
	outputPath   string
	manifestPath string
)

var buildCmd = &cobra.Command{
	Use:   "build [project]",
	Short: "Assemble a project and write the output tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openProject(loadOptions{
			dir:        argOr(args, "."),
			configPath: configPath,
			flags:      cmd.Flags(),
			logger:     newLogger(cmd.ErrOrStderr(), "build"),
		})
		if err != nil {
			return err
		}
		return runBuild(cmd.Context(), s, buildOptions{
			output:   outputPath,
			manifest: manifestPath,
		}, cmd.OutOrStdout())
	},
}

func init() {
	buildCmd.Flags().StringVarP(&outputPath, "output", "o", "dist", "output directory")
	buildCmd.Flags().StringP("environment", "e", "", "build environment (default development, or EMBER_ENV)")
	buildCmd.Flags().Bool("tests", false, "include the test tree (default on outside production)")
	buildCmd.Flags().Bool("hinting", false, "lint the app and tests trees (default on outside production)")
	buildCmd.Flags().StringVar(&manifestPath, "manifest", "", "write a SQLite manifest of the output to this path")
	rootCmd.AddCommand(buildCmd)
}

type buildOptions struct {
	output   string
	manifest string
}

func runBuild(ctx context.Context, s *session, opts buildOptions, w io.Writer) error {
	out, err := s.build(ctx)
	if err != nil {
		return err
	}

	dest, err := filepath.Abs(opts.output)
	if err != nil {
		return err
	}
	if err := checkOutputDir(dest, s.dir); err != nil {
		return issue.New("write output").
			Resource(dest).
			Suggest("pass an output directory inside or beside the project with -o, e.g. -o dist").
			Wrap(err).Err()
	}
	if err := os.RemoveAll(dest); err != nil {
		return issue.New("clean output").Resource(dest).Wrap(err).Err()
	}
	if err := tree.Write(out, osfs.New(dest), "/"); err != nil {
		return issue.New("write output").
			Resource(dest).
			Suggest("check that the directory is writable").
			Wrap(err).Err()
	}

	if opts.manifest != "" {
		start := time.Now()
		_ = os.Remove(opts.manifest)
		mw, err := manifest.NewWriter(opts.manifest)
		if err != nil {
			return issue.New("create manifest").Resource(opts.manifest).Wrap(err).Err()
		}
		if err := mw.Record(s.assembler.Cache(), out); err != nil {
			_ = mw.Close()
			return issue.New("write manifest").Resource(opts.manifest).Wrap(err).Err()
		}
		if err := mw.Close(); err != nil {
			return issue.New("write manifest").Resource(opts.manifest).Wrap(err).Err()
		}
		s.logger.Debug("wrote manifest", "path", opts.manifest, "took", time.Since(start))
	}

	fmt.Fprintf(w, "Built %s (%s) into %s: %d files\n", s.assembler.Name(), s.assembler.Env(), dest, len(out.Files()))
	return nil
}

// checkOutputDir refuses an output directory that is the project root or one
// of its ancestors, since the output directory is removed before writing.
func checkOutputDir(dest, projectDir string) error {
	root, err := filepath.Abs(projectDir)
	if err != nil {
		return err
	}
	if dest == root {
		return fmt.Errorf("output directory is the project root")
	}
	rel, err := filepath.Rel(dest, root)
	if err != nil {
		return nil
	}
	if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output directory contains the project root")
	}
	return nil
}

func argOr(args []string, def string) string {
	if len(args) > 0 {
		return args[0]
	}
	return def
}
