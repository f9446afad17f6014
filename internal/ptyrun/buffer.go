package ptyrun

import "bytes"

// RollingBuffer keeps just enough of the previous read to detect a needle
// that was split across two reads.
type RollingBuffer struct {
	maxNeedle int
	tail      []byte
}

func NewRollingBuffer(maxNeedle int) *RollingBuffer {
	return &RollingBuffer{maxNeedle: maxNeedle}
}

// Append returns the search window (retained tail + data) and keeps the
// last maxNeedle-1 bytes of it for the next call.
func (b *RollingBuffer) Append(data []byte) []byte {
	window := make([]byte, 0, len(b.tail)+len(data))
	window = append(window, b.tail...)
	window = append(window, data...)

	keep := b.maxNeedle - 1
	switch {
	case keep <= 0:
		b.tail = nil
	case len(window) > keep:
		b.tail = append(b.tail[:0:0], window[len(window)-keep:]...)
	default:
		b.tail = append(b.tail[:0:0], window...)
	}
	return window
}

func (b *RollingBuffer) Reset() { b.tail = nil }

// LowercaseASCII lowercases A-Z only; other bytes, including UTF-8
// sequences, pass through unchanged.
func LowercaseASCII(data []byte) []byte {
	out := make([]byte, len(data))
	for i, c := range data {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func longestNeedle(opts Options) int {
	n := 0
	for k := range opts.SendOnSubstrings {
		n = max(n, len(k))
	}
	for _, s := range opts.StopOnSubstrings {
		n = max(n, len(s))
	}
	return n
}

type trigger struct {
	needle   []byte
	response string
	fired    bool
}

func newTriggers(m map[string]string) []*trigger {
	out := make([]*trigger, 0, len(m))
	for k, v := range m {
		if k == "" {
			continue
		}
		out = append(out, &trigger{needle: LowercaseASCII([]byte(k)), response: v})
	}
	return out
}

func containsAny(window []byte, needles [][]byte) bool {
	for _, n := range needles {
		if len(n) > 0 && bytes.Contains(window, n) {
			return true
		}
	}
	return false
}
