package graph

import (
	"sync"
)

// HotSwapGraph serves one output graph at a time. A rebuild replaces it with
// Swap while readers (the NFS preview) keep going.
type HotSwapGraph struct {
	mu         sync.RWMutex
	current    Graph
	generation int
}

func NewHotSwapGraph(initial Graph) *HotSwapGraph {
	return &HotSwapGraph{current: initial, generation: 1}
}

// Swap replaces the current graph and returns the new generation.
func (h *HotSwapGraph) Swap(g Graph) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = g
	h.generation++
	return h.generation
}

// Current returns the graph being served.
func (h *HotSwapGraph) Current() Graph {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Generation counts swaps, starting at 1 for the initial graph.
func (h *HotSwapGraph) Generation() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.generation
}

func (h *HotSwapGraph) GetNode(id string) (*Node, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.GetNode(id)
}

func (h *HotSwapGraph) ListChildren(id string) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.ListChildren(id)
}

func (h *HotSwapGraph) ReadContent(id string, buf []byte, offset int64) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.ReadContent(id, buf, offset)
}
