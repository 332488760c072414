package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

func TestFramer_IrregularChunks(t *testing.T) {
	f := audio.NewFramer(1000, 4)

	f.Push([]float64{1, 2, 3})
	if _, ok := f.Pop(); ok {
		t.Fatal("Pop returned a frame from 3 of 4 samples")
	}
	f.Push([]float64{4, 5, 6, 7, 8, 9})

	first, ok := f.Pop()
	if !ok || first.Samples[0] != 1 || first.Samples[3] != 4 || first.Timestamp != 0 {
		t.Fatalf("first frame = %+v", first)
	}
	second, ok := f.Pop()
	if !ok || second.Samples[0] != 5 || second.Timestamp != 4*time.Millisecond {
		t.Fatalf("second frame = %+v", second)
	}
	if f.Buffered() != 1 {
		t.Errorf("Buffered = %d, want 1", f.Buffered())
	}

	tail, ok := f.Flush()
	if !ok || len(tail.Samples) != 4 || tail.Samples[0] != 9 || tail.Samples[1] != 0 {
		t.Errorf("tail = %+v", tail)
	}
	if _, ok := f.Flush(); ok {
		t.Error("Flush on empty framer returned a frame")
	}
}

func TestFramer_PoppedFramesAreIndependent(t *testing.T) {
	f := audio.NewFramer(8000, 2)
	f.Push([]float64{1, 2, 3, 4})
	a, _ := f.Pop()
	f.Push([]float64{9, 9})
	if a.Samples[0] != 1 || a.Samples[1] != 2 {
		t.Errorf("earlier frame mutated: %v", a.Samples)
	}
}
