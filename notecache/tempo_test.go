package notecache

import (
	"reflect"
	"testing"
)

func TestMergeTempos(t *testing.T) {
	perTrack := [][]TempoEntry{
		{{Tick: 100, USPerQuarter: 400000}},
		{{Tick: 0, USPerQuarter: 500000}, {Tick: 200, USPerQuarter: 300000}},
	}
	want := []TempoEntry{
		{Tick: 0, USPerQuarter: 500000},
		{Tick: 100, USPerQuarter: 400000},
		{Tick: 200, USPerQuarter: 300000},
	}
	if got := mergeTempos(perTrack); !reflect.DeepEqual(got, want) {
		t.Errorf("mergeTempos = %+v, want %+v", got, want)
	}
}

func TestMergeTemposSynthesizesDefault(t *testing.T) {
	want := []TempoEntry{{Tick: 0, USPerQuarter: 500000}}
	if got := mergeTempos(nil); !reflect.DeepEqual(got, want) {
		t.Errorf("mergeTempos(nil) = %+v, want %+v", got, want)
	}
}
