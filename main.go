// Command keyroll builds a per-key note cache from a standard MIDI file and
// reports what it found. It exercises the full cache pipeline without any
// rendering dependencies; renderers consume the same read surface.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"keyroll/notecache"
)

func main() {
	workers := flag.Int("workers", 0, "max parallel track parses (0 = all CPUs)")
	tempDir := flag.String("tempdir", "", "directory for the cache file (default system temp)")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: keyroll [flags] <file.mid>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	st, err := os.Stat(path)
	if err != nil {
		log.Fatalf("stat %s: %v", path, err)
	}

	start := time.Now()
	rf, err := notecache.Build(path, notecache.Options{Workers: *workers, TempDir: *tempDir})
	if err != nil {
		log.Fatalf("build cache: %v", err)
	}
	defer rf.Close()
	elapsed := time.Since(start)

	fmt.Printf("%s: %s midi, %s cache\n", path,
		humanize.Bytes(uint64(st.Size())), humanize.Bytes(uint64(rf.Size())))
	fmt.Printf("tracks: %d  division: %d ticks/quarter  tempo changes: %d\n",
		rf.TrackCount(), rf.Division(), len(rf.Tempos()))
	fmt.Printf("notes: %s  max tick: %s\n",
		humanize.Comma(int64(rf.NoteCount())), humanize.Comma(int64(rf.MaxTick())))

	lo, hi, used := -1, -1, 0
	busiest, busiestKey := 0, 0
	for key := 0; key < 128; key++ {
		n := len(rf.Notes(key))
		if n == 0 {
			continue
		}
		if lo < 0 {
			lo = key
		}
		hi = key
		used++
		if n > busiest {
			busiest, busiestKey = n, key
		}
	}
	if used > 0 {
		fmt.Printf("keys: %d in use (%d-%d), busiest %d with %s notes\n",
			used, lo, hi, busiestKey, humanize.Comma(int64(busiest)))
	}
	fmt.Printf("built in %s\n", durafmt.Parse(elapsed).LimitFirstN(2))
}
