package notecache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// smfBytes assembles a MIDI file from raw track payloads.
func smfBytes(format, division uint16, tracks ...[]byte) []byte {
	var b bytes.Buffer
	b.WriteString("MThd")
	binary.Write(&b, binary.BigEndian, uint32(6))
	binary.Write(&b, binary.BigEndian, format)
	binary.Write(&b, binary.BigEndian, uint16(len(tracks)))
	binary.Write(&b, binary.BigEndian, division)
	for _, tr := range tracks {
		b.WriteString("MTrk")
		binary.Write(&b, binary.BigEndian, uint32(len(tr)))
		b.Write(tr)
	}
	return b.Bytes()
}

var eotTrack = []byte{0x00, 0xFF, 0x2F, 0x00}

func TestScanTracks(t *testing.T) {
	second := []byte{0x00, 0x90, 0x3C, 0x64, 0x00, 0x80, 0x3C, 0x00, 0x00, 0xFF, 0x2F, 0x00}
	src := smfBytes(1, 480, eotTrack, second)
	info, err := scanTracks(src)
	if err != nil {
		t.Fatalf("scanTracks: %v", err)
	}
	if info.format != 1 || info.division != 480 {
		t.Errorf("format/division = %d/%d, want 1/480", info.format, info.division)
	}
	if len(info.tracks) != 2 {
		t.Fatalf("tracks = %d, want 2", len(info.tracks))
	}
	if info.tracks[0].off != 22 || info.tracks[0].length != len(eotTrack) {
		t.Errorf("track 0 range = %+v", info.tracks[0])
	}
	if info.tracks[1].off != 22+len(eotTrack)+8 || info.tracks[1].length != len(second) {
		t.Errorf("track 1 range = %+v", info.tracks[1])
	}
}

func TestScanRejects(t *testing.T) {
	badTrackMagic := smfBytes(0, 480, eotTrack)
	copy(badTrackMagic[14:18], "MTrx")
	truncatedTrack := smfBytes(0, 480, eotTrack)
	truncatedTrack = truncatedTrack[:len(truncatedTrack)-2]

	tests := []struct {
		name string
		src  []byte
		want error
	}{
		{"short file", []byte("MThd"), ErrMalformedStream},
		{"bad header magic", smfBytesBadMagic(), ErrMalformedStream},
		{"format 2", smfBytes(2, 480, eotTrack), ErrUnsupportedFormat},
		{"smpte division", smfBytes(0, 0xE728, eotTrack), ErrUnsupportedFormat},
		{"bad track magic", badTrackMagic, ErrMalformedStream},
		{"truncated track", truncatedTrack, ErrMalformedStream},
	}
	for _, tt := range tests {
		if _, err := scanTracks(tt.src); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func smfBytesBadMagic() []byte {
	src := smfBytes(0, 480, eotTrack)
	copy(src[0:4], "XXXX")
	return src
}
