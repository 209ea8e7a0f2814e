// Package blockstore implements SPEC_FULL.md §4.9's LRU block pager: at
// most -m blocks resident in memory, the rest paged out to -s storage via
// internal/persist, plus a gopsutil-driven watchdog that forces extra
// eviction under memory pressure. The watchdog is grounded on health.go's
// mem/cpu/load sampling, retargeted from an HTTP health endpoint's
// warn/critical status codes to a single eviction trigger.
package blockstore

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rskv-p/toposcan/internal/components"
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/persist"
)

type entry struct {
	gid   int64
	box   grid.Box
	block *components.Block
}

// Store is an LRU cache of resident blocks, backed by on-disk pages.
// MaxResident <= 0 means unlimited: Put/Get never evict.
type Store struct {
	mu          sync.Mutex
	dir         string
	maxResident int
	order       *list.List // front = most recently used
	elems       map[int64]*list.Element
	log         zerolog.Logger

	evictions int64
	loads     int64
}

// New creates a Store rooted at dir, keeping at most maxResident blocks
// resident (<=0 for unlimited).
func New(dir string, maxResident int, log zerolog.Logger) *Store {
	return &Store{
		dir:         dir,
		maxResident: maxResident,
		order:       list.New(),
		elems:       make(map[int64]*list.Element),
		log:         log,
	}
}

func (s *Store) pagePath(gid int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("block-%d.json", gid))
}

// Put inserts or replaces gid's resident block, evicting the
// least-recently-used entry if this pushes the store over MaxResident.
func (s *Store) Put(gid int64, box grid.Box, b *components.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.elems[gid]; ok {
		el.Value.(*entry).box = box
		el.Value.(*entry).block = b
		s.order.MoveToFront(el)
		return nil
	}

	el := s.order.PushFront(&entry{gid: gid, box: box, block: b})
	s.elems[gid] = el
	return s.evictOverflowLocked()
}

// Get returns gid's block and box, loading it from disk if it isn't
// currently resident. ok is false only if gid has never been stored.
func (s *Store) Get(gid int64) (*components.Block, grid.Box, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.elems[gid]; ok {
		s.order.MoveToFront(el)
		e := el.Value.(*entry)
		return e.block, e.box, true, nil
	}

	data, err := os.ReadFile(s.pagePath(gid))
	if os.IsNotExist(err) {
		return nil, grid.Box{}, false, nil
	}
	if err != nil {
		return nil, grid.Box{}, false, fmt.Errorf("blockstore: read page for block %d: %w", gid, err)
	}

	rec, err := persist.Unmarshal(data)
	if err != nil {
		return nil, grid.Box{}, false, fmt.Errorf("blockstore: decode page for block %d: %w", gid, err)
	}
	b, err := persist.DecodeBlock(rec)
	if err != nil {
		return nil, grid.Box{}, false, fmt.Errorf("blockstore: rehydrate block %d: %w", gid, err)
	}
	s.loads++
	s.log.Debug().Int64("gid", gid).Msg("blockstore: paged block in from disk")

	el := s.order.PushFront(&entry{gid: gid, box: rec.Box, block: b})
	s.elems[gid] = el
	if err := s.evictOverflowLocked(); err != nil {
		return nil, grid.Box{}, false, err
	}
	return b, rec.Box, true, nil
}

// evictOverflowLocked pages out entries beyond MaxResident, oldest first.
// Caller must hold s.mu.
func (s *Store) evictOverflowLocked() error {
	if s.maxResident <= 0 {
		return nil
	}
	for s.order.Len() > s.maxResident {
		if err := s.evictOneLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) evictOneLocked() error {
	back := s.order.Back()
	if back == nil {
		return nil
	}
	e := back.Value.(*entry)
	if err := s.writePage(e); err != nil {
		return err
	}
	s.order.Remove(back)
	delete(s.elems, e.gid)
	s.evictions++
	s.log.Debug().Int64("gid", e.gid).Msg("blockstore: evicted block to disk")
	return nil
}

// EvictOne pages out the single least-recently-used resident block, the
// watchdog's response to crossing a memory-pressure threshold. A no-op
// if nothing is resident.
func (s *Store) EvictOne() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictOneLocked()
}

func (s *Store) writePage(e *entry) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("blockstore: create storage dir %s: %w", s.dir, err)
	}
	rec := persist.EncodeBlock(e.block, e.box)
	data, err := persist.Marshal(rec)
	if err != nil {
		return fmt.Errorf("blockstore: marshal block %d: %w", e.gid, err)
	}
	if err := os.WriteFile(s.pagePath(e.gid), data, 0o644); err != nil {
		return fmt.Errorf("blockstore: write page for block %d: %w", e.gid, err)
	}
	return nil
}

// Flush pages every resident block out to disk without dropping it from
// the cache, used before a profiler snapshot or a clean shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for el := s.order.Front(); el != nil; el = el.Next() {
		if err := s.writePage(el.Value.(*entry)); err != nil {
			return err
		}
	}
	return nil
}

// Resident returns the number of blocks currently held in memory.
func (s *Store) Resident() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Stats returns lifetime eviction and disk-load counts, surfaced by the
// monitor/profiler packages.
func (s *Store) Stats() (evictions, loads int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions, s.loads
}
