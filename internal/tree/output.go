package tree

import (
	"fmt"
	"os"
	"path"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/assembler/internal/graph"
)

// Write copies every file of out under dir on fsys. Files keep their build
// mod time when the filesystem supports it.
func Write(out *graph.MemoryStore, fsys billy.Filesystem, dir string) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for _, p := range out.Files() {
		n, err := out.GetNode(p)
		if err != nil {
			return err
		}
		dst := path.Join(dir, p)
		if err := fsys.MkdirAll(path.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path.Dir(dst), err)
		}
		if err := util.WriteFile(fsys, dst, n.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", dst, err)
		}
		if ch, ok := fsys.(billy.Change); ok && !n.ModTime.IsZero() {
			if err := ch.Chtimes(dst, n.ModTime, n.ModTime); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("chtimes %s: %w", dst, err)
			}
		}
	}
	return nil
}
