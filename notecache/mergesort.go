package notecache

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"unsafe"
)

// noteBytes views a NoteRef slice as raw cache bytes. The struct is laid
// out exactly as its on-disk record on little-endian hosts, which is the
// same assumption the zero-copy reader makes; the cache file is private to
// one session and never portable.
func noteBytes(v []NoteRef) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*noteRefSize)
}

// mergeShards is the third pass. Each key's shard holds one locally sorted
// run per contributing track, and the union of several sorted runs is not
// globally sorted. Keys are processed one at a time through a single
// scratch buffer sized for the largest shard, so peak scratch memory is
// bounded by the largest single key regardless of the total note count.
func (b *builder) mergeShards() error {
	var maxNotes uint64
	for _, n := range b.written {
		if n > maxNotes {
			maxNotes = n
		}
	}
	if maxNotes == 0 {
		return nil
	}
	scratch := make([]NoteRef, maxNotes)
	for key := 0; key < keySlots; key++ {
		n := b.written[key]
		if n == 0 {
			continue
		}
		view := scratch[:n]
		raw := noteBytes(view)
		got, err := b.f.ReadAt(raw, int64(b.lay.offsets[key]))
		if got < len(raw) {
			return fmt.Errorf("%w: key %d shard short read: have %d bytes, want %d",
				ErrIntegrity, key, got, len(raw))
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read shard %d: %w", key, err)
		}
		// Ties on start are ordered by track then end so a rebuild of
		// the same input stays byte-identical under any scheduling.
		sort.Slice(view, func(i, j int) bool {
			a, c := view[i], view[j]
			if a.Start != c.Start {
				return a.Start < c.Start
			}
			if a.Track != c.Track {
				return a.Track < c.Track
			}
			return a.End < c.End
		})
		if err := b.writeAt(raw, int64(b.lay.offsets[key])); err != nil {
			return err
		}
	}
	return nil
}
