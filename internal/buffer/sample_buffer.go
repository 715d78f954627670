// Package buffer holds the bounded motion history a monitoring session evaluates.
package buffer

import (
	"iter"
	"slices"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/models"
)

// DefaultCapacity is roughly two seconds of history at the nominal 50 Hz rate.
const DefaultCapacity = 100

// SampleBuffer is a fixed-capacity FIFO ring of motion samples.
// It is not safe for concurrent use; the owning session serializes access.
type SampleBuffer struct {
	samples []models.MotionSample
	head    int // index of the oldest sample
	size    int
}

// New creates a sample buffer holding at most capacity samples
func New(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SampleBuffer{
		samples: make([]models.MotionSample, capacity),
	}
}

// Push appends a sample, evicting the oldest one when the buffer is full
func (b *SampleBuffer) Push(s models.MotionSample) {
	capacity := len(b.samples)
	if b.size < capacity {
		b.samples[(b.head+b.size)%capacity] = s
		b.size++
		return
	}
	b.samples[b.head] = s
	b.head = (b.head + 1) % capacity
}

// Len returns the number of buffered samples
func (b *SampleBuffer) Len() int {
	return b.size
}

// Cap returns the buffer capacity
func (b *SampleBuffer) Cap() int {
	return len(b.samples)
}

// Clear empties the buffer
func (b *SampleBuffer) Clear() {
	b.head = 0
	b.size = 0
}

// Latest returns the most recently pushed sample
func (b *SampleBuffer) Latest() (models.MotionSample, bool) {
	if b.size == 0 {
		return models.MotionSample{}, false
	}
	return b.at(b.size - 1), true
}

// Window returns the samples whose timestamp lies within d of the most recent
// sample, oldest first. The sequence is evaluated lazily against the buffer's
// contents at iteration time and can be iterated any number of times.
func (b *SampleBuffer) Window(d time.Duration) iter.Seq[models.MotionSample] {
	return func(yield func(models.MotionSample) bool) {
		start := b.windowStart(d)
		for i := start; i < b.size; i++ {
			if !yield(b.at(i)) {
				return
			}
		}
	}
}

// WindowSlice collects Window(d) into a slice
func (b *SampleBuffer) WindowSlice(d time.Duration) []models.MotionSample {
	return slices.Collect(b.Window(d))
}

// windowStart returns the logical index of the oldest sample inside the window
func (b *SampleBuffer) windowStart(d time.Duration) int {
	if b.size == 0 {
		return 0
	}
	latest := b.at(b.size - 1).Timestamp
	start := b.size - 1
	for start > 0 && latest.Sub(b.at(start-1).Timestamp) <= d {
		start--
	}
	return start
}

func (b *SampleBuffer) at(i int) models.MotionSample {
	return b.samples[(b.head+i)%len(b.samples)]
}
