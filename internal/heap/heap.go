// Package heap is the buffer arena of one query execution.
//
// A Heap holds named buffers of raw records. Buffers are append-only and are
// never freed while the execution runs: a record dropped by one branch's
// WHOSE filter may still be needed, unfiltered, by a sibling or ancestor.
// The whole heap is discarded with its execution.
package heap

import (
	"regexp"
	"slices"
	"sync"

	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/stitcherr"
)

// Meta describes a buffer at allocation time.
type Meta struct {
	// From is the entity identity the records belong to.
	From string

	// IsFootprint marks buffers holding only join keys (junction rows)
	// rather than records meant for display.
	IsFootprint bool
}

// Buffer is a snapshot of one named page of records.
type Buffer struct {
	Identity string
	Meta
	Records []ir.IRObject
}

// Info summarizes a buffer without its records.
type Info struct {
	Identity    string `json:"identity"`
	From        string `json:"from"`
	Records     int    `json:"records"`
	IsFootprint bool   `json:"footprint,omitempty"`
}

// Heap is safe for concurrent use by sibling branches.
type Heap struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
	order   []string
}

// New creates an empty heap.
func New() *Heap {
	return &Heap{buffers: make(map[string]*Buffer)}
}

// Malloc allocates an empty buffer. Allocating an identity twice is a
// KindDuplicateAllocation error.
func (h *Heap) Malloc(identity string, meta Meta) (Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.buffers[identity]; exists {
		return Buffer{}, stitcherr.New(stitcherr.KindDuplicateAllocation,
			"buffer already allocated").WithIdentity(identity).WithEntity(meta.From)
	}
	b := h.alloc(identity, meta)
	return Buffer{Identity: b.Identity, Meta: b.Meta, Records: []ir.IRObject{}}, nil
}

// alloc requires h.mu held for writing.
func (h *Heap) alloc(identity string, meta Meta) *Buffer {
	b := &Buffer{Identity: identity, Meta: meta, Records: []ir.IRObject{}}
	h.buffers[identity] = b
	h.order = append(h.order, identity)
	return b
}

// Push appends records to a buffer, allocating it if needed. Arrival order
// is preserved across pushes.
func (h *Heap) Push(identity, from string, records []ir.IRObject) {
	h.push(identity, Meta{From: from}, records)
}

// PushFootprints is Push for a footprint buffer.
func (h *Heap) PushFootprints(identity, from string, records []ir.IRObject) {
	h.push(identity, Meta{From: from, IsFootprint: true}, records)
}

func (h *Heap) push(identity string, meta Meta, records []ir.IRObject) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.buffers[identity]
	if !ok {
		b = h.alloc(identity, meta)
	}
	b.Records = append(b.Records, records...)
}

// Get returns the records of a buffer in arrival order, or an empty slice
// when it does not exist.
func (h *Heap) Get(identity string) []ir.IRObject {
	h.mu.RLock()
	defer h.mu.RUnlock()

	b, ok := h.buffers[identity]
	if !ok {
		return []ir.IRObject{}
	}
	return slices.Clone(b.Records)
}

// Buffer returns a snapshot of a buffer.
func (h *Heap) Buffer(identity string) (Buffer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	b, ok := h.buffers[identity]
	if !ok {
		return Buffer{}, false
	}
	return Buffer{Identity: b.Identity, Meta: b.Meta, Records: slices.Clone(b.Records)}, true
}

// GetAllFrom returns every record of entity across all buffers, in
// allocation then arrival order, deduplicated by pkAttr. The first record
// seen for a primary key wins.
func (h *Heap) GetAllFrom(entity, pkAttr string) []ir.IRObject {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := []ir.IRObject{}
	seen := make(map[string]struct{})
	for _, id := range h.order {
		b := h.buffers[id]
		if b.From != entity {
			continue
		}
		for _, r := range b.Records {
			k := ir.Key(r.Get(pkAttr))
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// GetBufferIdentitiesLike returns the identities matching re, sorted.
func (h *Heap) GetBufferIdentitiesLike(re *regexp.Regexp) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := []string{}
	for id := range h.buffers {
		if re.MatchString(id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Len returns the number of buffers.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buffers)
}

// Summary describes every buffer in allocation order.
func (h *Heap) Summary() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Info, 0, len(h.order))
	for _, id := range h.order {
		b := h.buffers[id]
		out = append(out, Info{Identity: id, From: b.From, Records: len(b.Records), IsFootprint: b.IsFootprint})
	}
	return out
}
