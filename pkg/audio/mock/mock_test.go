package mock_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/audio/mock"
)

func TestSource_ReturnsFramesThenEOF(t *testing.T) {
	src := &mock.Source{Frames: []audio.AudioFrame{{FrameSize: 1}, {FrameSize: 2}}}
	ctx := context.Background()

	for want := 1; want <= 2; want++ {
		f, err := src.Next(ctx)
		if err != nil || f.FrameSize != want {
			t.Fatalf("Next = %+v, %v", f, err)
		}
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
	if src.CallCountNext != 3 || src.Remaining() != 0 {
		t.Errorf("calls=%d remaining=%d", src.CallCountNext, src.Remaining())
	}
}

func TestSource_DelayHonoursCancellation(t *testing.T) {
	src := &mock.Source{Frames: []audio.AudioFrame{{}}, Delay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
