// Package spectrum turns time-domain frames into magnitude frames for the
// classifier's frequency-domain mode.
//
// An [Analyzer] applies a Hann window and a real FFT (gonum dsp/fourier) and
// normalises magnitudes so that a full-scale sine lands at 1.0 in its bin.
// [Source] wraps any [audio.Source] and emits frames with Magnitudes set.
package spectrum

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// Analyzer computes windowed magnitude spectra of a fixed length. It reuses
// internal buffers and is not safe for concurrent use.
type Analyzer struct {
	n      int
	fft    *fourier.FFT
	window []float64
	norm   float64
	buf    []float64
	coeff  []complex128
}

// NewAnalyzer returns an analyzer for n-point transforms.
func NewAnalyzer(n int) (*Analyzer, error) {
	if n < 2 {
		return nil, fmt.Errorf("spectrum: transform length must be at least 2, got %d", n)
	}
	w := Hann(n)
	var sum float64
	for _, v := range w {
		sum += v
	}
	return &Analyzer{
		n:      n,
		fft:    fourier.NewFFT(n),
		window: w,
		norm:   sum / 2,
		buf:    make([]float64, n),
		coeff:  make([]complex128, n/2+1),
	}, nil
}

// Len returns the transform length.
func (a *Analyzer) Len() int { return a.n }

// Bins returns the number of magnitude bins, n/2+1.
func (a *Analyzer) Bins() int { return a.n/2 + 1 }

// BinHz returns the centre frequency of bin i at sampleRate.
func (a *Analyzer) BinHz(i, sampleRate int) float64 {
	return a.fft.Freq(i) * float64(sampleRate)
}

// Magnitudes returns the normalised magnitude spectrum of samples, clamped
// to [0, 1]. Input shorter than the transform length is zero-padded; longer
// input is truncated.
func (a *Analyzer) Magnitudes(samples []float64) []float64 {
	clear(a.buf)
	for i := range min(len(samples), a.n) {
		a.buf[i] = samples[i] * a.window[i]
	}
	a.coeff = a.fft.Coefficients(a.coeff, a.buf)

	mags := make([]float64, len(a.coeff))
	for i, c := range a.coeff {
		m := cmplx.Abs(c) / a.norm
		if math.IsNaN(m) {
			m = 0
		}
		mags[i] = min(m, 1)
	}
	return mags
}

// Transform returns f with Magnitudes populated and FrameSize set to the
// transform length. Samples are kept.
func (a *Analyzer) Transform(f audio.AudioFrame) audio.AudioFrame {
	f.Magnitudes = a.Magnitudes(f.Samples)
	f.FrameSize = a.n
	return f
}

// Hann returns a symmetric Hann window of length n.
func Hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// Source adds magnitude spectra to the frames of an upstream source. The
// transform length equals the upstream frame size.
type Source struct {
	src audio.Source
	a   *Analyzer
}

// NewSource wraps src. frameSize must match the upstream frames.
func NewSource(src audio.Source, frameSize int) (*Source, error) {
	a, err := NewAnalyzer(frameSize)
	if err != nil {
		return nil, err
	}
	return &Source{src: src, a: a}, nil
}

// Next implements [audio.Source].
func (s *Source) Next(ctx context.Context) (audio.AudioFrame, error) {
	f, err := s.src.Next(ctx)
	if err != nil {
		return audio.AudioFrame{}, err
	}
	return s.a.Transform(f), nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.src.Format() }

// Close implements [audio.Source].
func (s *Source) Close() error { return s.src.Close() }

var _ audio.Source = (*Source)(nil)
