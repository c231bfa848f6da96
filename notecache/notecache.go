// Package notecache converts standard MIDI files into a disk-backed cache
// laid out for random, per-key, time-ordered access. The source event stream
// is parsed twice in parallel over tracks: a statistics pass sizes the cache
// file up front, a build pass fills each key's shard, and a bounded-memory
// merge pass orders every shard by start tick. The finished cache is memory
// mapped read-only and exposes zero-copy note arrays per key.
//
// The cache file is private to the RenderFile that owns it and is deleted on
// Close. Records are stored little-endian; the file never leaves the machine
// that wrote it, so the reader views records through native struct overlays.
package notecache

import "encoding/binary"

const (
	cacheMagic   = 0x30525351 // "QSR0"
	cacheVersion = 1

	headerSize = 64
	keySlots   = 256
	renderKeys = 128 // only the General MIDI key range is exposed

	noteRefSize    = 12
	tempoEntrySize = 8

	// tempoReserve is the minimum capacity of the tempo region, reserved
	// before any event content is parsed so the layout stays computable
	// from note counts alone.
	tempoReserve = 1024

	// defaultTempo is synthesized at tick 0 when the source has no tempo
	// events: 500000 microseconds per quarter note, 120 BPM.
	defaultTempo = 500000
)

// NoteRef is one note in a key's shard: a 12-byte record pairing the start
// and end ticks with the track it came from. End is never below Start; a
// note left sounding at end of track is closed at the track's final tick.
type NoteRef struct {
	Start uint32
	End   uint32
	Track uint16
	Key   uint8
	_     uint8
}

// TempoEntry is one tempo change: the tick it takes effect and the tempo as
// microseconds per quarter note (a 24-bit value stored in 32 bits).
type TempoEntry struct {
	Tick         uint32
	USPerQuarter uint32
}

// cacheHeader is the fixed 64-byte record at the start of the cache file.
// It is written twice: a placeholder before the build and the final version
// once every track has finished parsing, because the totals are not known
// until then.
type cacheHeader struct {
	magic       uint32
	version     uint32
	trackCount  uint32
	division    uint32
	maxTick     uint32
	noteCount   uint32
	tempoCount  uint32
	offTableOff uint64
	cntTableOff uint64
	tempoOff    uint64
	dataOff     uint64
}

func putHeader(b []byte, h cacheHeader) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], h.magic)
	le.PutUint32(b[4:], h.version)
	le.PutUint32(b[8:], h.trackCount)
	le.PutUint32(b[12:], h.division)
	le.PutUint32(b[16:], h.maxTick)
	le.PutUint32(b[20:], h.noteCount)
	le.PutUint32(b[24:], h.tempoCount)
	// bytes 28-31 reserved
	le.PutUint64(b[32:], h.offTableOff)
	le.PutUint64(b[40:], h.cntTableOff)
	le.PutUint64(b[48:], h.tempoOff)
	le.PutUint64(b[56:], h.dataOff)
}

func headerAt(b []byte) cacheHeader {
	le := binary.LittleEndian
	return cacheHeader{
		magic:       le.Uint32(b[0:]),
		version:     le.Uint32(b[4:]),
		trackCount:  le.Uint32(b[8:]),
		division:    le.Uint32(b[12:]),
		maxTick:     le.Uint32(b[16:]),
		noteCount:   le.Uint32(b[20:]),
		tempoCount:  le.Uint32(b[24:]),
		offTableOff: le.Uint64(b[32:]),
		cntTableOff: le.Uint64(b[40:]),
		tempoOff:    le.Uint64(b[48:]),
		dataOff:     le.Uint64(b[56:]),
	}
}

func putNoteRef(b []byte, n NoteRef) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], n.Start)
	le.PutUint32(b[4:], n.End)
	le.PutUint16(b[8:], n.Track)
	b[10] = n.Key
	b[11] = 0
}

func noteRefAt(b []byte) NoteRef {
	le := binary.LittleEndian
	return NoteRef{
		Start: le.Uint32(b[0:]),
		End:   le.Uint32(b[4:]),
		Track: le.Uint16(b[8:]),
		Key:   b[10],
	}
}

func putTempoEntry(b []byte, t TempoEntry) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], t.Tick)
	le.PutUint32(b[4:], t.USPerQuarter)
}

func tempoEntryAt(b []byte) TempoEntry {
	le := binary.LittleEndian
	return TempoEntry{
		Tick:         le.Uint32(b[0:]),
		USPerQuarter: le.Uint32(b[4:]),
	}
}
