package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/agentic-research/assembler/internal/config"
	"github.com/agentic-research/assembler/internal/graph"
	"github.com/agentic-research/assembler/internal/issue"
	"github.com/agentic-research/assembler/internal/nfsmount"
)

var (
	previewMount string
	previewAddr  string
)

var previewCmd = &cobra.Command{
	Use:   "preview [project]",
	Short: "Serve the assembled output read-only over NFS",
	Long: `preview builds the project in memory and serves the output tree over NFS
without writing it to disk. The root also holds _descriptors.json, the list
of descriptors the output was assembled from.

Send SIGHUP to rebuild; the export switches to the new output in place.
With --mount the export is mounted at the given directory (through sudo) and
unmounted on exit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := loadOptions{
			dir:        argOr(args, "."),
			configPath: configPath,
			flags:      cmd.Flags(),
			logger:     newLogger(cmd.ErrOrStderr(), "preview"),
		}
		s, err := openProject(opts)
		if err != nil {
			return err
		}
		p, err := startPreview(cmd.Context(), s, previewAddr)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go p.rebuildOn(cmd.Context(), hup, func() (*session, error) { return openProject(opts) })

		return p.wait(cmd.Context(), cmd.OutOrStdout(), previewMount)
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewMount, "mount", "", "mount the preview at this directory")
	previewCmd.Flags().StringVar(&previewAddr, "addr", "localhost:0", "NFS listen address")
	previewCmd.Flags().StringP("environment", "e", "", "build environment")
	rootCmd.AddCommand(previewCmd)
}

// preview is a running NFS export of a built output.
type preview struct {
	srv    *nfsmount.Server
	live   *graph.HotSwapGraph
	fs     *nfsmount.OutputFS
	logger *log.Logger
}

// startPreview builds the session output and starts an NFS server over it.
func startPreview(ctx context.Context, s *session, addr string) (*preview, error) {
	out, err := s.build(ctx)
	if err != nil {
		return nil, err
	}
	live := graph.NewHotSwapGraph(out)
	ofs := nfsmount.NewOutputFS(live, []byte(config.JSON(descriptorRecords(s.assembler.Cache(), ""))))
	srv, err := nfsmount.NewServer(ofs, addr)
	if err != nil {
		return nil, issue.New("start preview").
			Resource(addr).
			Suggest("pass a free address with --addr").
			Wrap(err).Err()
	}
	return &preview{srv: srv, live: live, fs: ofs, logger: s.logger}, nil
}

func (p *preview) Port() int    { return p.srv.Port() }
func (p *preview) Close() error { return p.srv.Close() }

// rebuild swaps in the output of a freshly loaded session. On error the
// previous output keeps being served.
func (p *preview) rebuild(ctx context.Context, s *session) error {
	out, err := s.build(ctx)
	if err != nil {
		return err
	}
	p.live.Swap(out)
	p.fs.SetDescriptors([]byte(config.JSON(descriptorRecords(s.assembler.Cache(), ""))))
	return nil
}

func (p *preview) rebuildOn(ctx context.Context, signals <-chan os.Signal, load func() (*session, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			s, err := load()
			if err == nil {
				err = p.rebuild(ctx, s)
			}
			if err != nil {
				p.logger.Error("rebuild failed, still serving the previous output", "err", err)
				continue
			}
			p.logger.Info("rebuilt", "generation", p.live.Generation())
		}
	}
}

func (p *preview) wait(ctx context.Context, w io.Writer, mountpoint string) error {
	if mountpoint == "" {
		fmt.Fprintf(w, "NFS preview on %s\n", p.srv.Addr())
		if args, err := nfsmount.MountCommand(p.Port(), "<dir>"); err == nil {
			fmt.Fprintf(w, "  %s\n", strings.Join(args, " "))
		}
		<-ctx.Done()
		return nil
	}

	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return issue.New("create mountpoint").Resource(mountpoint).Wrap(err).Err()
	}
	if err := nfsmount.Mount(p.Port(), mountpoint); err != nil {
		return issue.New("mount preview").
			Resource(mountpoint).
			Suggest("check that an NFS client is installed and sudo is available").
			Wrap(err).Err()
	}
	fmt.Fprintf(w, "Preview mounted at %s (Ctrl+C to unmount)\n", mountpoint)
	<-ctx.Done()

	if err := nfsmount.Unmount(mountpoint); err != nil {
		return issue.New("unmount preview").
			Resource(mountpoint).
			Suggest("unmount it by hand with umount").
			Wrap(err).Err()
	}
	return nil
}
