package notecache

import "errors"

var (
	// ErrMalformedStream reports structurally broken MIDI data: a bad
	// chunk magic, a truncated or overlong variable-length quantity, or
	// running status before any event has set an opcode.
	ErrMalformedStream = errors.New("malformed midi stream")

	// ErrUnsupportedFormat reports well-formed MIDI the cache does not
	// handle: format 2 files and SMPTE time division.
	ErrUnsupportedFormat = errors.New("unsupported midi format")

	// ErrIntegrity reports a cache file that disagrees with its own
	// bookkeeping, such as a shard shorter than its recorded note count.
	ErrIntegrity = errors.New("cache integrity")
)
