package graph

import (
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
)

var ErrNotFound = errors.New("node not found")

// ErrNotDir is returned when a file node is used where a directory is required.
var ErrNotDir = errors.New("not a directory")

// Node is the universal primitive of a built tree.
// The Mode field explicitly declares whether this is a file or directory.
type Node struct {
	ID         string
	Mode       fs.FileMode       // fs.ModeDir for directories, 0 for regular files
	ModTime    time.Time         // Modification time
	Data       []byte            // File content
	Properties map[string][]byte // Metadata / extended attributes
	Children   []string          // Child node IDs (directories only)
	Origin     string            // Descriptor slot that emitted the file ("name:type")
}

// ContentSize returns the byte length of this node's content.
func (n *Node) ContentSize() int64 {
	return int64(len(n.Data))
}

// Graph is the read interface shared by the builder, the output writer and the
// NFS preview.
type Graph interface {
	GetNode(id string) (*Node, error)
	ListChildren(id string) ([]string, error)
	ReadContent(id string, buf []byte, offset int64) (int, error)
}

// -----------------------------------------------------------------------------
// In-memory output of one tree
// -----------------------------------------------------------------------------

type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	roots []string // Top-level nodes (e.g. "dummy", "__packager__")

	// Roaring bitmap index: origin → set of node internal IDs.
	originToNodes map[string]*roaring.Bitmap
	nodeIntID     map[string]uint32 // Node.ID → internal bitmap uint32 ID
	intToNodeID   []string          // reverse: uint32 → Node.ID
	nextIntID     uint32            // monotonic counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:         make(map[string]*Node),
		roots:         []string{},
		originToNodes: make(map[string]*roaring.Bitmap),
		nodeIntID:     make(map[string]uint32),
	}
}

// AddRoot registers a node as a top-level root and adds it to the store.
func (s *MemoryStore) AddRoot(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addRootLocked(n)
}

func (s *MemoryStore) addRootLocked(n *Node) {
	s.nodes[n.ID] = n
	for _, r := range s.roots {
		if r == n.ID {
			return
		}
	}
	s.roots = append(s.roots, n.ID)
	sort.Strings(s.roots)
}

// AddNode adds a non-root node to the store.
func (s *MemoryStore) AddNode(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
	s.indexNode(n)
}

// PutFile writes a regular file at p, creating every missing parent directory.
// An existing file at p is replaced. It fails with ErrNotDir when a parent is a
// file, or when p itself names a directory.
func (s *MemoryStore) PutFile(p string, data []byte, modTime time.Time) error {
	return s.put(p, data, modTime, "")
}

// CopyFile writes src's content, mod time and origin at p.
func (s *MemoryStore) CopyFile(p string, src *Node) error {
	return s.put(p, src.Data, src.ModTime, src.Origin)
}

func (s *MemoryStore) put(p string, data []byte, modTime time.Time, origin string) error {
	p = clean(p)
	if p == "" {
		return ErrNotDir
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureDirLocked(path.Dir(p)); err != nil {
		return err
	}
	n, ok := s.nodes[p]
	if ok {
		if n.Mode.IsDir() {
			return ErrNotDir
		}
		s.unindexNode(n)
		n.Data = data
		n.ModTime = modTime
	} else {
		n = &Node{ID: p, Data: data, ModTime: modTime}
		s.nodes[p] = n
		s.linkLocked(n)
	}
	n.Origin = origin
	s.indexNode(n)
	return nil
}

// MkdirAll creates the directory p and its parents.
func (s *MemoryStore) MkdirAll(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureDirLocked(clean(p))
}

func (s *MemoryStore) ensureDirLocked(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if n, ok := s.nodes[dir]; ok {
		if !n.Mode.IsDir() {
			return ErrNotDir
		}
		return nil
	}
	if err := s.ensureDirLocked(path.Dir(dir)); err != nil {
		return err
	}
	n := &Node{ID: dir, Mode: fs.ModeDir}
	s.nodes[dir] = n
	s.linkLocked(n)
	return nil
}

// linkLocked attaches n to its parent directory (or the root list).
// Must be called with s.mu held and the parent already present.
func (s *MemoryStore) linkLocked(n *Node) {
	parent := path.Dir(n.ID)
	if parent == "." {
		s.addRootLocked(n)
		return
	}
	p := s.nodes[parent]
	i := sort.SearchStrings(p.Children, n.ID)
	if i < len(p.Children) && p.Children[i] == n.ID {
		return
	}
	p.Children = append(p.Children, "")
	copy(p.Children[i+1:], p.Children[i:])
	p.Children[i] = n.ID
}

// Stamp tags every file under prefix with origin and indexes it. An empty
// prefix stamps the whole store.
func (s *MemoryStore) Stamp(prefix, origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix = clean(prefix)
	for id, n := range s.nodes {
		if n.Mode.IsDir() {
			continue
		}
		if prefix != "" && id != prefix && !strings.HasPrefix(id, prefix+"/") {
			continue
		}
		s.unindexNode(n)
		n.Origin = origin
		s.indexNode(n)
	}
}

// indexNode assigns an internal bitmap ID and registers the node in originToNodes.
// Must be called with s.mu held.
func (s *MemoryStore) indexNode(n *Node) {
	if n.Origin == "" {
		return
	}
	intID, ok := s.nodeIntID[n.ID]
	if !ok {
		intID = s.nextIntID
		s.nextIntID++
		s.nodeIntID[n.ID] = intID
		for uint32(len(s.intToNodeID)) <= intID {
			s.intToNodeID = append(s.intToNodeID, "")
		}
		s.intToNodeID[intID] = n.ID
	}
	bm, exists := s.originToNodes[n.Origin]
	if !exists {
		bm = roaring.New()
		s.originToNodes[n.Origin] = bm
	}
	bm.Add(intID)
}

func (s *MemoryStore) unindexNode(n *Node) {
	if n.Origin == "" {
		return
	}
	intID, ok := s.nodeIntID[n.ID]
	if !ok {
		return
	}
	if bm, exists := s.originToNodes[n.Origin]; exists {
		bm.Remove(intID)
		if bm.IsEmpty() {
			delete(s.originToNodes, n.Origin)
		}
	}
}

// FilesFrom returns the sorted paths of files stamped with origin.
func (s *MemoryStore) FilesFrom(origin string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bm, ok := s.originToNodes[origin]
	if !ok {
		return nil
	}
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		intID := it.Next()
		if int(intID) < len(s.intToNodeID) && s.intToNodeID[intID] != "" {
			out = append(out, s.intToNodeID[intID])
		}
	}
	sort.Strings(out)
	return out
}

// Origins lists every origin that stamped at least one file.
func (s *MemoryStore) Origins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.originToNodes))
	for o := range s.originToNodes {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// Remove deletes the node at p and, for directories, everything below it.
func (s *MemoryStore) Remove(p string) error {
	p = clean(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[p]
	if !ok {
		return ErrNotFound
	}
	s.removeLocked(n)

	parent := path.Dir(p)
	if parent == "." {
		for i, r := range s.roots {
			if r == p {
				s.roots = append(s.roots[:i], s.roots[i+1:]...)
				break
			}
		}
		return nil
	}
	if pn, ok := s.nodes[parent]; ok {
		for i, c := range pn.Children {
			if c == p {
				pn.Children = append(pn.Children[:i], pn.Children[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *MemoryStore) removeLocked(n *Node) {
	for _, c := range n.Children {
		if child, ok := s.nodes[c]; ok {
			s.removeLocked(child)
		}
	}
	s.unindexNode(n)
	if intID, ok := s.nodeIntID[n.ID]; ok {
		delete(s.nodeIntID, n.ID)
		s.intToNodeID[intID] = ""
	}
	delete(s.nodes, n.ID)
}

// GetNode implements Graph.
func (s *MemoryStore) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[clean(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

// ListChildren implements Graph.
func (s *MemoryStore) ListChildren(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id = clean(id)
	if id == "" {
		return append([]string(nil), s.roots...), nil
	}

	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), n.Children...), nil
}

// ReadContent implements Graph.
func (s *MemoryStore) ReadContent(id string, buf []byte, offset int64) (int, error) {
	node, err := s.GetNode(id)
	if err != nil {
		return 0, err
	}
	data := node.Data
	if offset >= int64(len(data)) {
		return 0, nil
	}
	end := offset + int64(len(buf))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return copy(buf, data[offset:end]), nil
}

// ReadFile returns the content of the file at p.
func (s *MemoryStore) ReadFile(p string) ([]byte, error) {
	n, err := s.GetNode(p)
	if err != nil {
		return nil, err
	}
	if n.Mode.IsDir() {
		return nil, ErrNotDir
	}
	return n.Data, nil
}

// Files returns the sorted paths of every regular file in the store.
func (s *MemoryStore) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.nodes))
	for id, n := range s.nodes {
		if !n.Mode.IsDir() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Roots returns the top-level entries.
func (s *MemoryStore) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.roots...)
}

// Len returns the number of nodes, directories included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Clone returns a deep copy of the store structure. File data slices are
// shared since stores never mutate them in place.
func (s *MemoryStore) Clone() *MemoryStore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := NewMemoryStore()
	out.roots = append(out.roots, s.roots...)
	for id, n := range s.nodes {
		cp := *n
		cp.Children = append([]string(nil), n.Children...)
		out.nodes[id] = &cp
		out.indexNode(&cp)
	}
	return out
}

// clean normalizes a node path: slash separated, no leading or trailing slash.
func clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// Clean exposes the store's path normalization.
func Clean(p string) string { return clean(p) }
