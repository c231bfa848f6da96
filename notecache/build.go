package notecache

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/remeh/sizedwaitgroup"
)

// Options configures a cache build.
type Options struct {
	// Workers caps how many tracks are parsed concurrently. Zero or
	// negative means runtime.NumCPU().
	Workers int
	// TempDir is the directory holding the cache file. Empty means the
	// system temp directory. Consumers that pin caches to fast local
	// disks set this.
	TempDir string
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

// Build parses the MIDI file at path and returns a ready cache. The source
// file is mapped read-only for the duration of the build; the cache file
// lives in Options.TempDir and is deleted when the RenderFile is closed, or
// before Build returns an error.
func Build(path string, opts Options) (*RenderFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open midi: %w", err)
	}
	defer f.Close()
	src, err := mapRead(f)
	if err != nil {
		return nil, fmt.Errorf("map midi: %w", err)
	}
	defer unmapBytes(src)
	return buildCache(src, opts)
}

// buildCache runs the full pipeline over in-memory source bytes: index
// scan, statistics pass, layout, build pass, shard merge, tempo merge,
// header finalization, and finally the read-only mapping.
func buildCache(src []byte, opts Options) (*RenderFile, error) {
	info, err := scanTracks(src)
	if err != nil {
		return nil, err
	}
	stats, err := countNotes(src, info, opts.workers())
	if err != nil {
		return nil, err
	}
	lay := planLayout(&stats.counts)

	dir := opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "keyroll-*.qsr")
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	rf, err := runBuild(f, src, info, stats, lay, opts)
	if err != nil {
		// A failed build never leaves its cache file behind.
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return rf, nil
}

func runBuild(f *os.File, src []byte, info *fileInfo, stats *fileStats, lay layout, opts Options) (*RenderFile, error) {
	if err := f.Truncate(int64(lay.size)); err != nil {
		return nil, fmt.Errorf("size cache: %w", err)
	}
	b := &builder{
		src:         src,
		info:        info,
		lay:         lay,
		f:           f,
		trackTempos: make([][]TempoEntry, len(info.tracks)),
	}
	hdr := cacheHeader{
		magic:       cacheMagic,
		version:     cacheVersion,
		trackCount:  uint32(len(info.tracks)),
		division:    uint32(info.division),
		offTableOff: headerSize,
		cntTableOff: headerSize + keySlots*8,
		tempoOff:    lay.tempoOff,
		dataOff:     lay.dataOff,
	}
	// Placeholder header first; the counts are filled in once every track
	// has finished parsing.
	if err := b.writeHeader(hdr); err != nil {
		return nil, err
	}
	if err := b.writeTables(stats); err != nil {
		return nil, err
	}
	if err := b.runPass2(opts.workers()); err != nil {
		return nil, err
	}
	if err := b.mergeShards(); err != nil {
		return nil, err
	}
	tempoCount, err := b.writeTempos()
	if err != nil {
		return nil, err
	}
	hdr.maxTick = stats.maxTick
	hdr.noteCount = uint32(stats.notes)
	hdr.tempoCount = tempoCount
	if err := b.writeHeader(hdr); err != nil {
		return nil, err
	}
	return openRender(f)
}

// builder carries the shared state of the parallel build pass.
type builder struct {
	src  []byte
	info *fileInfo
	lay  layout
	f    *os.File

	// fileMu serializes every physical write. Positioned writes on one
	// file handle are not assumed safe under concurrency; the per-key
	// locks only keep unrelated keys' bookkeeping from contending.
	fileMu  sync.Mutex
	keyMu   [keySlots]sync.Mutex
	written [keySlots]uint64

	// slots hands out each note's shard position at Note-On time, before
	// any write happens, so no two tracks can double-book a slot.
	slots [keySlots]atomic.Uint32

	// trackTempos is indexed by track so the merged tempo order does not
	// depend on goroutine scheduling.
	trackTempos [][]TempoEntry
}

func (b *builder) writeAt(p []byte, off int64) error {
	b.fileMu.Lock()
	_, err := b.f.WriteAt(p, off)
	b.fileMu.Unlock()
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

func (b *builder) writeHeader(h cacheHeader) error {
	var buf [headerSize]byte
	putHeader(buf[:], h)
	return b.writeAt(buf[:], 0)
}

// writeTables fills the per-key offset and count tables. The counts come
// from the statistics pass and never change afterwards.
func (b *builder) writeTables(stats *fileStats) error {
	buf := make([]byte, 2*keySlots*8)
	for k := 0; k < keySlots; k++ {
		binary.LittleEndian.PutUint64(buf[k*8:], b.lay.offsets[k])
		binary.LittleEndian.PutUint64(buf[keySlots*8+k*8:], uint64(stats.counts[k]))
	}
	return b.writeAt(buf, headerSize)
}

func (b *builder) runPass2(workers int) error {
	var (
		mu       sync.Mutex
		firstErr error
	)
	swg := sizedwaitgroup.New(workers)
	for i, tr := range b.info.tracks {
		swg.Add()
		go func(i int, tr trackRange) {
			defer swg.Done()
			if err := b.parseTrack(uint16(i), tr); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("track %d: %w", i, err)
				}
				mu.Unlock()
			}
		}(i, tr)
	}
	swg.Wait()
	return firstErr
}

// pendingNote is a sounding note: the shard slot reserved at Note-On and
// the tick it started.
type pendingNote struct {
	slot  uint32
	start uint32
}

// slotNote pairs a completed note with its pre-allocated shard slot.
type slotNote struct {
	slot uint32
	ref  NoteRef
}

// trackParser is the build-pass event sink for one track. Each key keeps a
// LIFO stack of sounding notes, because a key may carry several overlapping
// Note-Ons before their Note-Offs arrive.
type trackParser struct {
	b       *builder
	track   uint16
	pending [keySlots][]pendingNote
	out     [keySlots][]slotNote
	tempos  []TempoEntry
}

func (p *trackParser) NoteOn(tick uint32, key, velocity uint8) {
	slot := p.b.slots[key].Add(1) - 1
	p.pending[key] = append(p.pending[key], pendingNote{slot: slot, start: tick})
}

func (p *trackParser) NoteOff(tick uint32, key uint8) {
	st := p.pending[key]
	if len(st) == 0 {
		// Stray Note-Off with nothing sounding.
		return
	}
	pn := st[len(st)-1]
	p.pending[key] = st[:len(st)-1]
	p.out[key] = append(p.out[key], slotNote{
		slot: pn.slot,
		ref:  NoteRef{Start: pn.start, End: tick, Track: p.track, Key: key},
	})
}

func (p *trackParser) Tempo(tick, usPerQuarter uint32) {
	p.tempos = append(p.tempos, TempoEntry{Tick: tick, USPerQuarter: usPerQuarter})
}

// EndOfTrack force-closes every note still sounding at the track's final
// tick; malformed files may omit Note-Offs entirely.
func (p *trackParser) EndOfTrack(tick uint32) {
	for key := range p.pending {
		for _, pn := range p.pending[key] {
			p.out[key] = append(p.out[key], slotNote{
				slot: pn.slot,
				ref:  NoteRef{Start: pn.start, End: tick, Track: p.track, Key: uint8(key)},
			})
		}
		p.pending[key] = nil
	}
}

// parseTrack re-walks one track's events in full. The statistics pass only
// kept counts; the note boundaries must be recovered here. Each key's
// completed notes are flushed to disk and dropped before the next key, so
// no track's decoded notes stay in memory once written.
func (b *builder) parseTrack(track uint16, tr trackRange) error {
	p := &trackParser{b: b, track: track}
	if err := walkTrack(b.src[tr.off:tr.off+tr.length], p); err != nil {
		return err
	}
	for key := 0; key < keySlots; key++ {
		if len(p.out[key]) == 0 {
			continue
		}
		if err := b.flushKey(uint8(key), p.out[key]); err != nil {
			return err
		}
		p.out[key] = nil
	}
	b.trackTempos[track] = p.tempos
	return nil
}

// flushKey writes one track's completed notes for a key into the key's
// shard. Slots were allocated at Note-On time, so within one track a key's
// slot order is already its start order; sorting by slot restores it and
// lets consecutive slots coalesce into single writes.
func (b *builder) flushKey(key uint8, notes []slotNote) error {
	sort.Slice(notes, func(i, j int) bool { return notes[i].slot < notes[j].slot })

	b.keyMu[key].Lock()
	b.written[key] += uint64(len(notes))
	b.keyMu[key].Unlock()

	base := b.lay.offsets[key]
	buf := make([]byte, 0, len(notes)*noteRefSize)
	runStart := 0
	for i := 1; i <= len(notes); i++ {
		if i < len(notes) && notes[i].slot == notes[i-1].slot+1 {
			continue
		}
		run := notes[runStart:i]
		buf = buf[:len(run)*noteRefSize]
		for j, sn := range run {
			putNoteRef(buf[j*noteRefSize:], sn.ref)
		}
		off := base + uint64(run[0].slot)*noteRefSize
		if err := b.writeAt(buf, int64(off)); err != nil {
			return err
		}
		runStart = i
	}
	return nil
}
