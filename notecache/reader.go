package notecache

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"unsafe"
)

// RenderFile is the finished cache: a read-only mapping of the cache file
// exposing zero-copy per-key note arrays and the tempo map. It owns the
// backing file for its lifetime and deletes it on Close.
type RenderFile struct {
	f    *os.File
	data []byte

	notes  [keySlots][]NoteRef
	tempos []TempoEntry

	trackCount uint16
	division   uint16
	maxTick    uint32
	noteCount  uint32
}

// openRender maps the written cache file, validates the header, and builds
// the per-key views. On failure the mapping is released; the caller removes
// the file.
func openRender(f *os.File) (*RenderFile, error) {
	data, err := mapRead(f)
	if err != nil {
		return nil, fmt.Errorf("map cache: %w", err)
	}
	r := &RenderFile{f: f, data: data}
	if err := r.index(); err != nil {
		unmapBytes(data)
		return nil, err
	}
	return r, nil
}

func (r *RenderFile) index() error {
	if len(r.data) < headerSize {
		return fmt.Errorf("%w: cache shorter than its header", ErrIntegrity)
	}
	h := headerAt(r.data)
	if h.magic != cacheMagic {
		return fmt.Errorf("%w: bad cache magic %#08x", ErrIntegrity, h.magic)
	}
	if h.version != cacheVersion {
		return fmt.Errorf("%w: cache version %d, want %d", ErrIntegrity, h.version, cacheVersion)
	}
	// The offset table sits directly after the header in version 1. Any
	// other location means the producer and reader disagree on the
	// format.
	if h.offTableOff != headerSize {
		return fmt.Errorf("%w: offset table at %d, want %d", ErrIntegrity, h.offTableOff, headerSize)
	}
	if h.cntTableOff != headerSize+keySlots*8 {
		return fmt.Errorf("%w: count table at %d, want %d", ErrIntegrity, h.cntTableOff, headerSize+keySlots*8)
	}
	r.trackCount = uint16(h.trackCount)
	r.division = uint16(h.division)
	r.maxTick = h.maxTick
	r.noteCount = h.noteCount

	if tablesEnd := headerSize + uint64(2*keySlots*8); uint64(len(r.data)) < tablesEnd {
		log.Printf("cache truncated inside key tables: have %d bytes, expected %d; no notes available",
			len(r.data), tablesEnd)
		return nil
	}
	for key := 0; key < renderKeys; key++ {
		off := binary.LittleEndian.Uint64(r.data[h.offTableOff+uint64(key)*8:])
		cnt := binary.LittleEndian.Uint64(r.data[h.cntTableOff+uint64(key)*8:])
		r.notes[key] = r.noteView(key, off, cnt)
	}
	r.tempos = r.tempoView(h.tempoOff, uint64(h.tempoCount))
	return nil
}

// noteView builds a zero-copy view of one key's shard. Regions that point
// outside the mapping are clamped rather than fatal, so a truncated cache
// still renders partial data.
func (r *RenderFile) noteView(key int, off, cnt uint64) []NoteRef {
	if cnt == 0 {
		return nil
	}
	size := uint64(len(r.data))
	if off > size || off%4 != 0 {
		log.Printf("key %d shard at offset %d outside %d byte cache; dropped", key, off, size)
		return nil
	}
	if want := cnt * noteRefSize; off+want > size {
		have := (size - off) / noteRefSize
		log.Printf("truncated shard for key %d: have %d notes, expected %d", key, have, cnt)
		cnt = have
	}
	if cnt == 0 {
		return nil
	}
	return unsafe.Slice((*NoteRef)(unsafe.Pointer(&r.data[off])), cnt)
}

func (r *RenderFile) tempoView(off, cnt uint64) []TempoEntry {
	if cnt == 0 {
		return nil
	}
	size := uint64(len(r.data))
	if off > size || off%4 != 0 {
		log.Printf("tempo region at offset %d outside %d byte cache; dropped", off, size)
		return nil
	}
	if want := cnt * tempoEntrySize; off+want > size {
		have := (size - off) / tempoEntrySize
		log.Printf("truncated tempo region: have %d entries, expected %d", have, cnt)
		cnt = have
	}
	if cnt == 0 {
		return nil
	}
	return unsafe.Slice((*TempoEntry)(unsafe.Pointer(&r.data[off])), cnt)
}

// Notes returns the notes for key, ordered by start tick. Keys outside
// 0-127 are always empty. The slice aliases the mapping and is only valid
// until Close.
func (r *RenderFile) Notes(key int) []NoteRef {
	if key < 0 || key >= keySlots {
		return nil
	}
	return r.notes[key]
}

// Tempos returns the tempo map ordered by tick. It is never empty for a
// cache built from a well-formed file: a default entry is synthesized when
// the source has no tempo events.
func (r *RenderFile) Tempos() []TempoEntry { return r.tempos }

// TrackCount returns the number of tracks in the source file.
func (r *RenderFile) TrackCount() uint16 { return r.trackCount }

// Division returns the source file's ticks-per-quarter-note value.
func (r *RenderFile) Division() uint16 { return r.division }

// MaxTick returns the largest event time observed across all tracks.
func (r *RenderFile) MaxTick() uint32 { return r.maxTick }

// NoteCount returns the total number of notes across all keys.
func (r *RenderFile) NoteCount() uint32 { return r.noteCount }

// Size returns the cache file size in bytes.
func (r *RenderFile) Size() int64 { return int64(len(r.data)) }

// Close releases the mapping, closes the backing file, and deletes it. The
// mapping is released before the file is removed; note and tempo slices
// handed out earlier are invalid afterwards.
func (r *RenderFile) Close() error {
	var first error
	if r.data != nil {
		if err := unmapBytes(r.data); err != nil {
			first = err
		}
		r.data = nil
	}
	for k := range r.notes {
		r.notes[k] = nil
	}
	r.tempos = nil
	if r.f != nil {
		name := r.f.Name()
		if err := r.f.Close(); err != nil && first == nil {
			first = err
		}
		if err := os.Remove(name); err != nil && first == nil {
			first = err
		}
		r.f = nil
	}
	return first
}
