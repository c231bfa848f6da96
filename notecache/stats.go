package notecache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/remeh/sizedwaitgroup"
)

// trackStats accumulates first-pass statistics for one track. The counters
// are local to the parsing goroutine, so no synchronization is needed until
// they are folded into the file totals.
type trackStats struct {
	counts    [keySlots]uint32
	notes     uint32
	finalTick uint32
}

func (s *trackStats) NoteOn(tick uint32, key, velocity uint8) {
	s.counts[key]++
	s.notes++
}

func (s *trackStats) NoteOff(uint32, uint8) {}

func (s *trackStats) Tempo(uint32, uint32) {}

func (s *trackStats) EndOfTrack(tick uint32) {
	s.finalTick = tick
}

// fileStats is the folded output of the statistics pass: everything the
// layout planner needs, with no note data retained.
type fileStats struct {
	counts  [keySlots]uint32
	notes   uint64
	maxTick uint32
}

// countNotes walks every track in parallel, counting Note-On events per key
// and tracking the maximum event time. Only Note-Ons with nonzero velocity
// count; a zero-velocity Note-On is a Note-Off alias and would otherwise be
// double-counted.
func countNotes(src []byte, info *fileInfo, workers int) (*fileStats, error) {
	fs := &fileStats{}
	var (
		maxTick  atomic.Uint32
		mu       sync.Mutex
		firstErr error
	)
	swg := sizedwaitgroup.New(workers)
	for i, tr := range info.tracks {
		swg.Add()
		go func(i int, tr trackRange) {
			defer swg.Done()
			st := &trackStats{}
			if err := walkTrack(src[tr.off:tr.off+tr.length], st); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("track %d: %w", i, err)
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			for k, n := range st.counts {
				fs.counts[k] += n
			}
			fs.notes += uint64(st.notes)
			mu.Unlock()
			// Optimistic compare-and-retry keeps the max-tick fold
			// lock-free.
			for {
				cur := maxTick.Load()
				if st.finalTick <= cur || maxTick.CompareAndSwap(cur, st.finalTick) {
					break
				}
			}
		}(i, tr)
	}
	swg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	fs.maxTick = maxTick.Load()
	return fs, nil
}
