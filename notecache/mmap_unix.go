//go:build unix

package notecache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapRead maps the whole file read-only. An empty file maps to nil.
func mapRead(f *os.File) ([]byte, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return nil, nil
	}
	b, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return b, nil
}

func unmapBytes(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
