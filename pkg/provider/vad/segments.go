package vad

import (
	"fmt"
	"time"
)

// Segment is one span of activity within a PCM buffer.
type Segment struct {
	Start, End time.Duration
}

// Segments runs pcm through h one frame at a time and returns the activity
// spans it reports. frameBytes is the size of one frame; a trailing partial
// frame is ignored. A segment still open at the end of pcm is closed there.
func Segments(h SessionHandle, pcm []byte, frameBytes int, frameDur time.Duration) ([]Segment, error) {
	if frameBytes <= 0 {
		return nil, fmt.Errorf("vad: frame size %d must be positive", frameBytes)
	}

	var (
		segs []Segment
		open bool
		at   time.Duration
	)
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		ev, err := h.ProcessFrame(pcm[off : off+frameBytes])
		if err != nil {
			return segs, fmt.Errorf("vad: frame at %s: %w", at, err)
		}
		switch ev.Type {
		case VADSpeechStart:
			if !open {
				segs = append(segs, Segment{Start: at})
				open = true
			}
		case VADSpeechEnd:
			if open {
				segs[len(segs)-1].End = at
				open = false
			}
		}
		at += frameDur
	}
	if open {
		segs[len(segs)-1].End = at
	}
	return segs, nil
}
