package notecache

import (
	"encoding/binary"
	"fmt"
)

const (
	evNoteOff      = 0x80
	evNoteOn       = 0x90
	evPolyPressure = 0xA0
	evController   = 0xB0
	evProgram      = 0xC0
	evChanPressure = 0xD0
	evPitchBend    = 0xE0

	evSysEx     = 0xF0
	evSysExCont = 0xF7
	evMeta      = 0xFF

	metaEndOfTrack = 0x2F
	metaTempo      = 0x51

	// maxVLQBytes caps variable-length quantities at the four bytes the
	// MIDI file format allows. Longer runs fail instead of overreading.
	maxVLQBytes = 4
)

// cursor walks raw track bytes. It remembers the running-status opcode so a
// data byte found in status position can be attributed to the previous
// event.
type cursor struct {
	data   []byte
	pos    int
	status byte // last channel opcode, 0 before any event
}

func (c *cursor) u8() (byte, error) {
	if c.pos >= len(c.data) {
		return 0, fmt.Errorf("%w: unexpected end of track data", ErrMalformedStream)
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) u16() (uint16, error) {
	if c.pos+2 > len(c.data) {
		return 0, fmt.Errorf("%w: unexpected end of track data", ErrMalformedStream)
	}
	v := binary.BigEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.pos+4 > len(c.data) {
		return 0, fmt.Errorf("%w: unexpected end of track data", ErrMalformedStream)
	}
	v := binary.BigEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) skip(n int) error {
	if n < 0 || c.pos+n > len(c.data) {
		return fmt.Errorf("%w: event length runs past end of track", ErrMalformedStream)
	}
	c.pos += n
	return nil
}

// vlq reads a variable-length quantity: seven payload bits per byte, high
// bit set on every byte but the last.
func (c *cursor) vlq() (uint32, error) {
	var v uint32
	for i := 0; i < maxVLQBytes; i++ {
		b, err := c.u8()
		if err != nil {
			return 0, err
		}
		v = v<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: unterminated variable-length quantity", ErrMalformedStream)
}

// eventSink receives the events the cache cares about. Everything else is
// skipped structurally by the walker.
type eventSink interface {
	NoteOn(tick uint32, key, velocity uint8)
	NoteOff(tick uint32, key uint8)
	Tempo(tick, usPerQuarter uint32)
	EndOfTrack(tick uint32)
}

// walkTrack decodes one track chunk's event stream and feeds the sink. A
// Note-On with velocity zero is delivered as a Note-Off. Track data that
// ends without an end-of-track meta is treated as ending at the final tick
// so pending notes still close.
func walkTrack(data []byte, sink eventSink) error {
	c := cursor{data: data}
	var tick uint32
	for c.pos < len(c.data) {
		delta, err := c.vlq()
		if err != nil {
			return err
		}
		tick += delta

		st, err := c.u8()
		if err != nil {
			return err
		}
		if st&0x80 == 0 {
			// Data byte in status position: running status. Unread it
			// and reuse the previous opcode.
			if c.status == 0 {
				return fmt.Errorf("%w: running status before any event", ErrMalformedStream)
			}
			c.pos--
			st = c.status
		}

		switch {
		case st == evMeta:
			c.status = 0
			typ, err := c.u8()
			if err != nil {
				return err
			}
			length, err := c.vlq()
			if err != nil {
				return err
			}
			switch typ {
			case metaEndOfTrack:
				sink.EndOfTrack(tick)
				return nil
			case metaTempo:
				if length != 3 {
					return fmt.Errorf("%w: tempo meta length %d, want 3", ErrMalformedStream, length)
				}
				hi, err := c.u8()
				if err != nil {
					return err
				}
				mid, err := c.u8()
				if err != nil {
					return err
				}
				lo, err := c.u8()
				if err != nil {
					return err
				}
				sink.Tempo(tick, uint32(hi)<<16|uint32(mid)<<8|uint32(lo))
			default:
				if err := c.skip(int(length)); err != nil {
					return err
				}
			}
		case st == evSysEx || st == evSysExCont:
			c.status = 0
			// Scan to the terminating 0xF7, bounded by the track chunk.
			for {
				b, err := c.u8()
				if err != nil {
					return fmt.Errorf("%w: unterminated sysex event", ErrMalformedStream)
				}
				if b == evSysExCont {
					break
				}
			}
		default:
			c.status = st
			switch st & 0xF0 {
			case evNoteOn:
				key, err := c.u8()
				if err != nil {
					return err
				}
				vel, err := c.u8()
				if err != nil {
					return err
				}
				if vel == 0 {
					sink.NoteOff(tick, key)
				} else {
					sink.NoteOn(tick, key, vel)
				}
			case evNoteOff:
				key, err := c.u8()
				if err != nil {
					return err
				}
				if err := c.skip(1); err != nil { // release velocity
					return err
				}
				sink.NoteOff(tick, key)
			case evPolyPressure, evController, evPitchBend:
				if err := c.skip(2); err != nil {
					return err
				}
			case evProgram, evChanPressure:
				if err := c.skip(1); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: unexpected status byte %#02x", ErrMalformedStream, st)
			}
		}
	}
	sink.EndOfTrack(tick)
	return nil
}
