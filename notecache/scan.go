package notecache

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var (
	magicMThd = []byte("MThd")
	magicMTrk = []byte("MTrk")
)

// smpteBit marks an SMPTE time division in the header's division word.
const smpteBit = 0x8000

// trackRange is one track chunk's event bytes within the source file.
type trackRange struct {
	off    int
	length int
}

// fileInfo is the result of the index scan: the validated header fields and
// the byte range of every track chunk, in file order.
type fileInfo struct {
	format   uint16
	division uint16
	tracks   []trackRange
}

// scanTracks makes one sequential pass over the source file, validating the
// outer chunk structure and recording each track's byte range without
// parsing any events.
func scanTracks(src []byte) (*fileInfo, error) {
	if len(src) < 14 {
		return nil, fmt.Errorf("%w: file shorter than header chunk", ErrMalformedStream)
	}
	if !bytes.Equal(src[0:4], magicMThd) {
		return nil, fmt.Errorf("%w: bad header magic % x", ErrMalformedStream, src[0:4])
	}
	if size := binary.BigEndian.Uint32(src[4:8]); size != 6 {
		return nil, fmt.Errorf("%w: header chunk size %d, want 6", ErrMalformedStream, size)
	}
	info := &fileInfo{
		format:   binary.BigEndian.Uint16(src[8:10]),
		division: binary.BigEndian.Uint16(src[12:14]),
	}
	if info.format > 1 {
		return nil, fmt.Errorf("%w: format %d", ErrUnsupportedFormat, info.format)
	}
	if info.division&smpteBit != 0 {
		return nil, fmt.Errorf("%w: smpte time division", ErrUnsupportedFormat)
	}
	trackCount := int(binary.BigEndian.Uint16(src[10:12]))

	pos := 14
	info.tracks = make([]trackRange, 0, trackCount)
	for i := 0; i < trackCount; i++ {
		if pos+8 > len(src) {
			return nil, fmt.Errorf("%w: track %d chunk header truncated", ErrMalformedStream, i)
		}
		if !bytes.Equal(src[pos:pos+4], magicMTrk) {
			return nil, fmt.Errorf("%w: track %d bad chunk magic % x", ErrMalformedStream, i, src[pos:pos+4])
		}
		length := int(binary.BigEndian.Uint32(src[pos+4 : pos+8]))
		if pos+8+length > len(src) {
			return nil, fmt.Errorf("%w: track %d data truncated: chunk declares %d bytes, %d remain",
				ErrMalformedStream, i, length, len(src)-pos-8)
		}
		info.tracks = append(info.tracks, trackRange{off: pos + 8, length: length})
		pos += 8 + length
	}
	return info, nil
}
