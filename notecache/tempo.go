package notecache

import "sort"

// mergeTempos globally orders the tempo events collected per track and
// guarantees at least one entry: a file with no tempo events plays at the
// default 120 BPM from tick zero.
func mergeTempos(perTrack [][]TempoEntry) []TempoEntry {
	var merged []TempoEntry
	for _, tempos := range perTrack {
		merged = append(merged, tempos...)
	}
	// Stable on the track-ordered concatenation, so equal ticks keep a
	// deterministic order across rebuilds.
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Tick < merged[j].Tick })
	if len(merged) == 0 {
		merged = []TempoEntry{{Tick: 0, USPerQuarter: defaultTempo}}
	}
	return merged
}

// writeTempos fills the tempo region and returns the true entry count for
// the final header. The region is the last in the file; a merged list
// larger than the reservation extends the file rather than overflowing a
// neighboring region.
func (b *builder) writeTempos() (uint32, error) {
	merged := mergeTempos(b.trackTempos)
	buf := make([]byte, len(merged)*tempoEntrySize)
	for i, te := range merged {
		putTempoEntry(buf[i*tempoEntrySize:], te)
	}
	if err := b.writeAt(buf, int64(b.lay.tempoOff)); err != nil {
		return 0, err
	}
	b.trackTempos = nil
	return uint32(len(merged)), nil
}
