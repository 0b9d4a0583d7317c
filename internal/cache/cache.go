// Package cache keeps the descriptors of one assembly, keyed by logical name.
//
// Descriptors live in an insertion-ordered arena. A roaring bitmap per tree
// type records which arena slots carry that type, so by-type queries walk the
// bitmap instead of every entry and come back in insertion order.
package cache

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/assembler/internal/descriptor"
	"github.com/agentic-research/assembler/internal/graph"
	"github.com/agentic-research/assembler/internal/tree"
)

var (
	ErrNotFound     = errors.New("descriptor not found")
	ErrDuplicateKey = errors.New("descriptor already exists")
)

// Op is a cache mutation: Insert, Merge or Replace.
type Op interface{ isOp() }

// Insert stores a descriptor under a key that must be free.
type Insert struct{ Descriptor *descriptor.Descriptor }

// Merge folds a descriptor into the one stored under an existing key.
type Merge struct{ Descriptor *descriptor.Descriptor }

// Replace rewrites one tree slot of an existing descriptor.
type Replace struct {
	Type descriptor.Type
	Tree tree.Tree
}

func (Insert) isOp()  {}
func (Merge) isOp()   {}
func (Replace) isOp() {}

type slot struct {
	key  string
	desc *descriptor.Descriptor
}

type Cache struct {
	slots  []*slot // nil once removed
	index  map[string]uint32
	byType map[descriptor.Type]*roaring.Bitmap
}

func New() *Cache {
	return &Cache{
		index:  make(map[string]uint32),
		byType: make(map[descriptor.Type]*roaring.Bitmap),
	}
}

// Upsert applies op to key and returns the stored descriptor.
func (c *Cache) Upsert(key string, op Op) (*descriptor.Descriptor, error) {
	switch o := op.(type) {
	case Insert:
		if _, ok := c.index[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
		id := uint32(len(c.slots))
		c.slots = append(c.slots, &slot{key: key, desc: o.Descriptor})
		c.index[key] = id
		c.reindex(id)
		return o.Descriptor, nil

	case Merge:
		id, ok := c.index[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		d := c.slots[id].desc
		d.Update(o.Descriptor)
		c.reindex(id)
		return d, nil

	case Replace:
		id, ok := c.index[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		d := c.slots[id].desc
		d.SetTree(o.Type, o.Tree)
		c.reindex(id)
		return d, nil
	}
	return nil, fmt.Errorf("unsupported cache op %T", op)
}

// Set inserts d when key is free and merges it otherwise.
func (c *Cache) Set(key string, d *descriptor.Descriptor) *descriptor.Descriptor {
	var op Op = Insert{Descriptor: d}
	if c.Has(key) {
		op = Merge{Descriptor: d}
	}
	stored, _ := c.Upsert(key, op)
	return stored
}

func (c *Cache) reindex(id uint32) {
	for _, typ := range c.slots[id].desc.Types() {
		bm, ok := c.byType[typ]
		if !ok {
			bm = roaring.New()
			c.byType[typ] = bm
		}
		bm.Add(id)
	}
}

// Get returns the descriptor stored at key.
func (c *Cache) Get(key string) (*descriptor.Descriptor, bool) {
	id, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return c.slots[id].desc, true
}

func (c *Cache) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Keys returns the live keys in insertion order.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, len(c.index))
	for _, s := range c.slots {
		if s != nil {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// All returns the live descriptors in insertion order.
func (c *Cache) All() []*descriptor.Descriptor {
	out := make([]*descriptor.Descriptor, 0, len(c.index))
	for _, s := range c.slots {
		if s != nil {
			out = append(out, s.desc)
		}
	}
	return out
}

func (c *Cache) Len() int { return len(c.index) }

// TreesByType returns the typ slot of every descriptor that has one, in
// insertion order.
func (c *Cache) TreesByType(typ descriptor.Type) ([]tree.Tree, error) {
	descs, err := c.DescriptorsByType(typ)
	if err != nil {
		return nil, err
	}
	out := make([]tree.Tree, 0, len(descs))
	for _, d := range descs {
		if t := d.Tree(typ); t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// DescriptorsByType returns every descriptor carrying typ, in insertion order.
// An index entry pointing at an evicted slot is an invariant violation and
// reported as ErrNotFound.
func (c *Cache) DescriptorsByType(typ descriptor.Type) ([]*descriptor.Descriptor, error) {
	bm, ok := c.byType[typ]
	if !ok {
		return nil, nil
	}
	out := make([]*descriptor.Descriptor, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		id := it.Next()
		if int(id) >= len(c.slots) || c.slots[id] == nil {
			return nil, fmt.Errorf("%w: slot %d indexed under %s", ErrNotFound, id, typ)
		}
		d := c.slots[id].desc
		if !d.Has(typ) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Remove evicts key. Removing an absent key is a no-op.
func (c *Cache) Remove(key string) {
	id, ok := c.index[key]
	if !ok {
		return
	}
	for _, bm := range c.byType {
		bm.Remove(id)
	}
	c.slots[id] = nil
	delete(c.index, key)
}

// ToTree merges every descriptor's trees into the final output tree. Later
// descriptors win on conflicts, and each file is stamped with the
// "key:type" slot that emitted it.
func (c *Cache) ToTree() tree.Tree {
	return c.ToTreeWhere(nil)
}

// ToTreeWhere is ToTree restricted to the slots keep accepts. A nil keep
// accepts every slot.
func (c *Cache) ToTreeWhere(keep func(key string, d *descriptor.Descriptor, typ descriptor.Type) bool) tree.Tree {
	var trees []tree.Tree
	for _, s := range c.slots {
		if s == nil {
			continue
		}
		for _, typ := range s.desc.Types() {
			t := s.desc.Tree(typ)
			if t == nil || (keep != nil && !keep(s.key, s.desc, typ)) {
				continue
			}
			trees = append(trees, stamp(t, s.key+":"+string(typ)))
		}
	}
	return tree.Merge(trees, tree.MergeOptions{Overwrite: true, Description: "TreeMerger (all)"})
}

func stamp(t tree.Tree, origin string) tree.Tree {
	return tree.Transform(t, "Origin ("+origin+")", func(in *graph.MemoryStore) (*graph.MemoryStore, error) {
		in.Stamp("", origin)
		return in, nil
	})
}
