// Package manifest records what an assembly produced in a SQLite database:
// one row per output file with the descriptor slot that emitted it, and one
// row per descriptor.
package manifest

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/assembler/internal/cache"
	"github.com/agentic-research/assembler/internal/descriptor"
	"github.com/agentic-research/assembler/internal/graph"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	origin TEXT NOT NULL,
	descriptor TEXT NOT NULL,
	tree_type TEXT NOT NULL,
	size INTEGER DEFAULT 0,
	mtime INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_tree_type ON files(tree_type, path);

CREATE TABLE IF NOT EXISTS descriptors (
	name TEXT PRIMARY KEY,
	package_name TEXT,
	root TEXT,
	types JSON
);
`

// File is one output file.
type File struct {
	Path       string
	Origin     string // "descriptor:type"
	Descriptor string
	TreeType   string
	Size       int64
	ModTime    time.Time
}

// Descriptor is one descriptor row.
type Descriptor struct {
	Name        string
	PackageName string
	Root        string
	Types       []string
}

// Writer fills a manifest database in a single transaction.
type Writer struct {
	db       *sql.DB
	tx       *sql.Tx
	stmtFile *sql.Stmt
	stmtDesc *sql.Stmt
	mu       sync.Mutex
}

// NewWriter creates the database at dbPath, or reuses it, and starts a
// transaction.
func NewWriter(dbPath string) (*Writer, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &Writer{db: db}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.stmtFile, err = w.tx.Prepare(`
		INSERT OR REPLACE INTO files (path, origin, descriptor, tree_type, size, mtime)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	w.stmtDesc, err = w.tx.Prepare(`
		INSERT OR REPLACE INTO descriptors (name, package_name, root, types)
		VALUES (?, ?, ?, ?)
	`)
	return err
}

// AddFile writes one file row.
func (w *Writer) AddFile(f File) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.stmtFile.Exec(f.Path, f.Origin, f.Descriptor, f.TreeType, f.Size, f.ModTime.UnixNano()); err != nil {
		return fmt.Errorf("insert file %s: %w", f.Path, err)
	}
	return nil
}

// AddDescriptor writes the row for the descriptor stored under key.
func (w *Writer) AddDescriptor(key string, d *descriptor.Descriptor) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	types := make([]any, 0, len(d.Types()))
	for _, t := range d.Types() {
		types = append(types, string(t))
	}
	if _, err := w.stmtDesc.Exec(key, d.PackageName, d.Root, oj.JSON(types)); err != nil {
		return fmt.Errorf("insert descriptor %s: %w", key, err)
	}
	return nil
}

// Record writes every descriptor of c and every file of the built output.
func (w *Writer) Record(c *cache.Cache, out *graph.MemoryStore) error {
	for _, key := range c.Keys() {
		d, ok := c.Get(key)
		if !ok {
			continue
		}
		if err := w.AddDescriptor(key, d); err != nil {
			return err
		}
	}
	for _, p := range out.Files() {
		n, err := out.GetNode(p)
		if err != nil {
			return err
		}
		name, typ := SplitOrigin(n.Origin)
		if err := w.AddFile(File{
			Path:       p,
			Origin:     n.Origin,
			Descriptor: name,
			TreeType:   typ,
			Size:       n.ContentSize(),
			ModTime:    n.ModTime,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Close commits and closes the database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.stmtFile.Close()
	_ = w.stmtDesc.Close()
	if err := w.tx.Commit(); err != nil {
		_ = w.db.Close()
		return err
	}
	return w.db.Close()
}

// SplitOrigin splits a "descriptor:type" origin. Descriptor keys may contain
// colons; tree types do not.
func SplitOrigin(origin string) (name, typ string) {
	i := strings.LastIndex(origin, ":")
	if i < 0 {
		return origin, ""
	}
	return origin[:i], origin[i+1:]
}

// Manifest reads a manifest database.
type Manifest struct {
	db *sql.DB
}

func Open(dbPath string) (*Manifest, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	return &Manifest{db: db}, nil
}

// Files lists the output files emitted by treeType slots, ordered by path.
// An empty treeType lists every file.
func (m *Manifest) Files(treeType string) ([]File, error) {
	query := "SELECT path, origin, descriptor, tree_type, size, mtime FROM files"
	var args []any
	if treeType != "" {
		query += " WHERE tree_type = ?"
		args = append(args, treeType)
	}
	rows, err := m.db.Query(query+" ORDER BY path", args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []File
	for rows.Next() {
		var f File
		var mtime int64
		if err := rows.Scan(&f.Path, &f.Origin, &f.Descriptor, &f.TreeType, &f.Size, &mtime); err != nil {
			return nil, err
		}
		f.ModTime = time.Unix(0, mtime)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Descriptors lists the descriptor rows ordered by name.
func (m *Manifest) Descriptors() ([]Descriptor, error) {
	rows, err := m.db.Query("SELECT name, package_name, root, types FROM descriptors ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Descriptor
	for rows.Next() {
		var d Descriptor
		var pkg, root, types sql.NullString
		if err := rows.Scan(&d.Name, &pkg, &root, &types); err != nil {
			return nil, err
		}
		d.PackageName, d.Root = pkg.String, root.String
		if types.Valid {
			v, err := oj.ParseString(types.String)
			if err != nil {
				return nil, fmt.Errorf("descriptor %s: %w", d.Name, err)
			}
			list, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("descriptor %s: types is %T, want list", d.Name, v)
			}
			for _, t := range list {
				if s, ok := t.(string); ok {
					d.Types = append(d.Types, s)
				}
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (m *Manifest) Close() error { return m.db.Close() }
