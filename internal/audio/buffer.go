// Package audio provides microphone capture and gapless PCM playback for
// streaming sessions.
package audio

import "sync"

// SampleBuffer accumulates 16-bit samples between flush ticks.
// Samples are kept in capture order and only discarded by Drain or Reset.
type SampleBuffer struct {
	mu      sync.Mutex
	samples []int16
}

// Append adds samples to the end of the buffer.
func (b *SampleBuffer) Append(samples []int16) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, samples...)
}

// Drain returns the buffered samples and leaves the buffer empty.
func (b *SampleBuffer) Drain() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.samples
	b.samples = nil
	return out
}

// Len returns the number of buffered samples.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Reset discards all buffered samples.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}
