package audio

// Framer slices a continuous mono sample stream into fixed-size frames and
// stamps them with stream-relative timestamps. Sources whose upstream delivers
// irregular chunks (decoded packets, resampler output) push whatever they get
// and pop whole frames.
type Framer struct {
	rate    int
	size    int
	buf     []float64
	emitted int64
}

// NewFramer returns a framer emitting frames of size samples at rate Hz.
func NewFramer(rate, size int) *Framer {
	return &Framer{rate: rate, size: size, buf: make([]float64, 0, 2*size)}
}

// Push appends samples to the pending buffer.
func (f *Framer) Push(samples []float64) {
	f.buf = append(f.buf, samples...)
}

// Buffered returns the number of pending samples.
func (f *Framer) Buffered() int { return len(f.buf) }

// Pop returns the next full frame, if one is buffered.
func (f *Framer) Pop() (AudioFrame, bool) {
	if f.size <= 0 || len(f.buf) < f.size {
		return AudioFrame{}, false
	}
	samples := make([]float64, f.size)
	copy(samples, f.buf)
	n := copy(f.buf, f.buf[f.size:])
	f.buf = f.buf[:n]
	return f.frame(samples), true
}

// Flush returns the pending partial frame zero-padded to full size. It
// reports false when nothing is pending.
func (f *Framer) Flush() (AudioFrame, bool) {
	if len(f.buf) == 0 {
		return AudioFrame{}, false
	}
	if fr, ok := f.Pop(); ok {
		return fr, true
	}
	samples := make([]float64, f.size)
	copy(samples, f.buf)
	f.buf = f.buf[:0]
	return f.frame(samples), true
}

func (f *Framer) frame(samples []float64) AudioFrame {
	fr := AudioFrame{
		Samples:    samples,
		SampleRate: f.rate,
		FrameSize:  f.size,
		Timestamp:  FrameDuration(int(f.emitted)*f.size, f.rate),
	}
	f.emitted++
	return fr
}
