package timing

import (
	"math"
	"strings"

	"github.com/bedtimestories/bedtime/internal/story"
)

// Strategy estimates the total narration length of a story, in seconds.
type Strategy interface {
	Total(segments []story.Segment) float64
}

// WordRate estimates duration from the word count at a reading speed, with a
// floor on the total. It is the canonical strategy.
type WordRate struct {
	WordsPerMinute float64
	MinSeconds     float64
}

// Total implements Strategy.
func (w WordRate) Total(segments []story.Segment) float64 {
	wpm := w.WordsPerMinute
	if wpm <= 0 {
		wpm = 150
	}
	words := 0
	for _, s := range segments {
		words += len(strings.Fields(s.Text))
	}
	return math.Max(w.MinSeconds, float64(words)/wpm*60)
}

// Fixed gives every segment the same duration regardless of its text.
//
// Deprecated: kept for folders produced by the first generator; use WordRate.
type Fixed struct {
	PerSegment float64
}

// Total implements Strategy.
func (f Fixed) Total(segments []story.Segment) float64 {
	return f.PerSegment * float64(len(segments))
}

// Measured uses a known narration length, falling back when it is unknown.
type Measured struct {
	Seconds  float64
	Fallback Strategy
}

// Total implements Strategy.
func (m Measured) Total(segments []story.Segment) float64 {
	if m.Seconds > 0 {
		return m.Seconds
	}
	if m.Fallback == nil {
		return WordRate{}.Total(segments)
	}
	return m.Fallback.Total(segments)
}

// ForName returns the strategy configured by name: "fixed" selects the
// legacy per-segment policy, anything else the word-rate policy.
func ForName(name string, wpm, minSeconds, perSegment float64) Strategy {
	if strings.EqualFold(name, "fixed") {
		return Fixed{PerSegment: perSegment}
	}
	return WordRate{WordsPerMinute: wpm, MinSeconds: minSeconds}
}

// Apply divides total evenly across segments, writing contiguous start/end
// offsets rounded to the millisecond. The first segment starts at 0 and the
// last ends at the returned (rounded) total.
func Apply(segments []story.Segment, total float64) float64 {
	n := len(segments)
	if n == 0 {
		return 0
	}
	total = round(total)
	bounds := make([]float64, n+1)
	for i := 1; i < n; i++ {
		bounds[i] = round(total * float64(i) / float64(n))
	}
	bounds[n] = total

	for i := range segments {
		segments[i].Start = bounds[i]
		segments[i].End = bounds[i+1]
	}
	return total
}

// Retime applies strategy s to segments and returns the total.
func Retime(segments []story.Segment, s Strategy) float64 {
	return Apply(segments, s.Total(segments))
}

// Valid reports whether segment timings start at zero, are contiguous and
// strictly increasing.
func Valid(segments []story.Segment) bool {
	for i, s := range segments {
		if s.End <= s.Start {
			return false
		}
		if i == 0 && s.Start != 0 {
			return false
		}
		if i > 0 && s.Start != segments[i-1].End {
			return false
		}
	}
	return true
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
