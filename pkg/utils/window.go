package utils

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Window is a sliding window of samples, overwriting the oldest sample
// once full.
type Window struct {
	data      []float64
	size      int
	nextIndex int
	full      bool
}

// NewWindow creates a new Window holding up to size samples.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		data: make([]float64, size),
		size: size,
	}
}

// getData returns the populated part of the window.
func (w *Window) getData() []float64 {
	if w.full {
		return w.data
	}
	return w.data[:w.nextIndex]
}

// Len returns the number of samples in the window.
func (w *Window) Len() int {
	return len(w.getData())
}

// Max returns the largest sample.
func (w *Window) Max() float64 {
	data := w.getData()
	if len(data) == 0 {
		return 0
	}
	m := data[0]
	for _, f := range data[1:] {
		m = math.Max(m, f)
	}
	return m
}

// Min returns the smallest sample.
func (w *Window) Min() float64 {
	data := w.getData()
	if len(data) == 0 {
		return 0
	}
	m := data[0]
	for _, f := range data[1:] {
		m = math.Min(m, f)
	}
	return m
}

// MeanStdDev returns the mean and the unbiased standard deviation of the
// samples. The deviation of a single sample is 0.
func (w *Window) MeanStdDev() (float64, float64) {
	data := w.getData()
	switch len(data) {
	case 0:
		return 0, 0
	case 1:
		return data[0], 0
	}
	return stat.MeanStdDev(data, nil)
}

// Insert adds a new value to the window.
func (w *Window) Insert(v float64) {
	w.data[w.nextIndex] = v
	w.nextIndex = (w.nextIndex + 1) % w.size
	if !w.full && w.nextIndex == 0 {
		w.full = true
	}
}

// LastInserted returns the last value inserted into the window
func (w *Window) LastInserted() float64 {
	lastIndex := w.nextIndex - 1
	if lastIndex < 0 {
		lastIndex = w.size - 1
	}
	return w.data[lastIndex]
}
