package notecache

// layout places every region of the cache file: the per-key shards packed
// back to back after the tables, then the tempo region.
type layout struct {
	offsets  [keySlots]uint64
	dataOff  uint64
	tempoOff uint64
	size     uint64
}

// planLayout is a pure function from per-key note counts to the file
// layout, computable before any event content is parsed. The tempo region
// is the last region of the file, so a merged tempo list larger than the
// reservation extends the file instead of colliding with a neighbor.
func planLayout(counts *[keySlots]uint32) layout {
	var l layout
	run := uint64(headerSize + 2*keySlots*8)
	l.dataOff = run
	for k := 0; k < keySlots; k++ {
		l.offsets[k] = run
		run += uint64(counts[k]) * noteRefSize
	}
	l.tempoOff = run
	l.size = run + tempoReserve*tempoEntrySize
	return l
}
