// Package nfsmount serves a built output tree over NFS so the assembled
// application can be browsed before it is written anywhere. It adapts
// graph.Graph to billy.Filesystem for use with willscott/go-nfs.
package nfsmount

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"

	"github.com/agentic-research/assembler/internal/graph"
)

// DescriptorsFile is the virtual file at the root that lists the descriptors
// the output was assembled from.
const DescriptorsFile = "_descriptors.json"

var errReadOnly = errors.New("read-only filesystem")

// OutputFS is a read-only billy.Filesystem over a built output graph.
type OutputFS struct {
	graph     graph.Graph
	mountTime time.Time

	mu          sync.RWMutex
	descriptors []byte
}

// NewOutputFS serves g. descriptorsJSON is the content of the virtual
// /_descriptors.json.
func NewOutputFS(g graph.Graph, descriptorsJSON []byte) *OutputFS {
	fs := &OutputFS{graph: g, mountTime: time.Now()}
	fs.SetDescriptors(descriptorsJSON)
	return fs
}

// SetDescriptors replaces the content of /_descriptors.json after a rebuild.
func (fs *OutputFS) SetDescriptors(descriptorsJSON []byte) {
	if len(descriptorsJSON) == 0 || descriptorsJSON[len(descriptorsJSON)-1] != '\n' {
		descriptorsJSON = append(descriptorsJSON, '\n')
	}
	fs.mu.Lock()
	fs.descriptors = descriptorsJSON
	fs.mu.Unlock()
}

func (fs *OutputFS) descriptorsJSON() []byte {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.descriptors
}

// --- billy.Basic ---

func (fs *OutputFS) Create(filename string) (billy.File, error) {
	return nil, errReadOnly
}

func (fs *OutputFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *OutputFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, errReadOnly
	}
	filename = cleanPath(filename)

	if filename == "/"+DescriptorsFile {
		return openSnapshot(DescriptorsFile, fs.descriptorsJSON()), nil
	}

	node, err := fs.graph.GetNode(filename)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	if node.Mode.IsDir() {
		return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
	}

	return openSnapshot(filename, node.Data), nil
}

func (fs *OutputFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *OutputFS) Rename(oldpath, newpath string) error { return errReadOnly }
func (fs *OutputFS) Remove(filename string) error         { return errReadOnly }

func (fs *OutputFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *OutputFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *OutputFS) ReadDir(path string) ([]os.FileInfo, error) {
	path = cleanPath(path)

	if path != "/" {
		node, err := fs.graph.GetNode(path)
		if err != nil {
			return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
		}
		if !node.Mode.IsDir() {
			return nil, &os.PathError{Op: "readdir", Path: path, Err: fmt.Errorf("not a directory")}
		}
	}

	children, err := fs.graph.ListChildren(path)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
	}

	infos := make([]os.FileInfo, 0, len(children)+1)
	if path == "/" {
		infos = append(infos, fs.descriptorsInfo())
	}
	for _, childID := range children {
		child, err := fs.graph.GetNode(childID)
		if err != nil {
			continue
		}
		infos = append(infos, nodeToFileInfo(child, fs.mountTime))
	}
	return infos, nil
}

func (fs *OutputFS) MkdirAll(filename string, perm os.FileMode) error {
	return errReadOnly
}

// --- billy.Symlink ---

func (fs *OutputFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)

	switch filename {
	case "/":
		return &staticFileInfo{name: "/", mode: os.ModeDir | 0o555, modTime: fs.mountTime}, nil
	case "/" + DescriptorsFile:
		return fs.descriptorsInfo(), nil
	}

	node, err := fs.graph.GetNode(filename)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
	}
	return nodeToFileInfo(node, fs.mountTime), nil
}

func (fs *OutputFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *OutputFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *OutputFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *OutputFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *OutputFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// --- internals ---

func (fs *OutputFS) descriptorsInfo() os.FileInfo {
	return &staticFileInfo{
		name:    DescriptorsFile,
		size:    int64(len(fs.descriptorsJSON())),
		mode:    0o444,
		modTime: fs.mountTime,
	}
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	path = filepath.Clean("/" + path)
	if path == "." {
		return "/"
	}
	return path
}

// nodeToFileInfo reports files as read-only. Zero mod times (generated
// files) fall back to the mount time.
func nodeToFileInfo(n *graph.Node, fallback time.Time) os.FileInfo {
	mode := os.FileMode(0o444)
	if n.Mode.IsDir() {
		mode = os.ModeDir | 0o555
	}
	modTime := n.ModTime
	if modTime.IsZero() {
		modTime = fallback
	}
	return &staticFileInfo{
		name:    filepath.Base(n.ID),
		size:    n.ContentSize(),
		mode:    mode,
		modTime: modTime,
	}
}

type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() interface{}   { return nil }

var (
	_ billy.Filesystem = (*OutputFS)(nil)
	_ billy.Capable    = (*OutputFS)(nil)
	_ billy.File       = (*snapshotFile)(nil)
)
