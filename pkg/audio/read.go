package audio

import (
	"context"
	"errors"
	"io"
)

// ReadAll pulls frames from src until it is exhausted and returns them. It is
// intended for tests and offline analysis of short inputs. [io.EOF] is not
// reported as an error.
func ReadAll(ctx context.Context, src Source) ([]AudioFrame, error) {
	var frames []AudioFrame
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}
