package notecache

import (
	"errors"
	"os"
	"testing"
)

func TestReaderClampsTruncatedCache(t *testing.T) {
	// Four sequential notes on key 60.
	track := []byte{
		0x00, 0x90, 0x3C, 0x64, 0x08, 0x80, 0x3C, 0x00,
		0x08, 0x90, 0x3C, 0x64, 0x08, 0x80, 0x3C, 0x00,
		0x08, 0x90, 0x3C, 0x64, 0x08, 0x80, 0x3C, 0x00,
		0x08, 0x90, 0x3C, 0x64, 0x08, 0x80, 0x3C, 0x00,
		0x00, 0xFF, 0x2F, 0x00,
	}
	rf, err := buildCache(smfBytes(0, 480, track), Options{TempDir: t.TempDir()})
	if err != nil {
		t.Fatalf("buildCache: %v", err)
	}
	if len(rf.Notes(60)) != 4 {
		t.Fatalf("fixture has %d notes, want 4", len(rf.Notes(60)))
	}
	data, err := os.ReadFile(rf.f.Name())
	if err != nil {
		t.Fatal(err)
	}
	rf.Close()

	// Cut inside the third record of key 60's shard; the reader should
	// clamp to the two whole records it can still see.
	shardOff := headerSize + 2*keySlots*8
	cut := shardOff + 2*noteRefSize + 5
	tf, err := os.CreateTemp(t.TempDir(), "trunc-*.qsr")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tf.Write(data[:cut]); err != nil {
		t.Fatal(err)
	}
	r, err := openRender(tf)
	if err != nil {
		t.Fatalf("openRender on truncated cache: %v", err)
	}
	defer r.Close()

	if got := len(r.Notes(60)); got != 2 {
		t.Errorf("clamped Notes(60) = %d records, want 2", got)
	}
	if got := len(r.Tempos()); got != 0 {
		t.Errorf("tempo region beyond the cut should clamp to empty, got %d", got)
	}
	// Scalars still come from the header.
	if r.NoteCount() != 4 {
		t.Errorf("NoteCount = %d, want the recorded 4", r.NoteCount())
	}
}

func TestOpenRenderRejectsBadHeader(t *testing.T) {
	base := cacheHeader{
		magic:       cacheMagic,
		version:     cacheVersion,
		offTableOff: headerSize,
		cntTableOff: headerSize + keySlots*8,
	}
	tests := []struct {
		name   string
		mutate func(*cacheHeader)
	}{
		{"bad magic", func(h *cacheHeader) { h.magic = 0xDEADBEEF }},
		{"bad version", func(h *cacheHeader) { h.version = 2 }},
		{"offset table drift", func(h *cacheHeader) { h.offTableOff = 128 }},
	}
	for _, tt := range tests {
		h := base
		tt.mutate(&h)
		var buf [headerSize]byte
		putHeader(buf[:], h)

		f, err := os.CreateTemp(t.TempDir(), "bad-*.qsr")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write(buf[:]); err != nil {
			t.Fatal(err)
		}
		if _, err := openRender(f); !errors.Is(err, ErrIntegrity) {
			t.Errorf("%s: openRender err = %v, want ErrIntegrity", tt.name, err)
		}
		f.Close()
	}
}
