package models

import "fmt"

// SegmentInfo describes one finalized media segment as reported by the
// upstream muxer. This struct crosses the muxer -> playlist boundary and
// is decoded directly from the daemon's event stream.
type SegmentInfo struct {
	// Path is the segment's location relative to the rendition base URL.
	Path string `json:"path"`
	// Rendition names the playlist this segment belongs to.
	Rendition string `json:"rendition"`
	// Title is an optional display string for the EXTINF tag.
	Title string `json:"title,omitempty"`
	// Duration is the segment playback duration in seconds.
	Duration float64 `json:"duration"`
	// Length and Offset locate the segment inside a larger file when
	// byte-range addressing is in use. Both are ignored otherwise.
	Length uint64 `json:"length,omitempty"`
	Offset uint64 `json:"offset,omitempty"`
	// Index is the logical sequence index assigned by the muxer.
	Index uint `json:"index"`
	// Discontinuous marks a decoder discontinuity immediately before
	// this segment.
	Discontinuous bool `json:"discontinuous,omitempty"`
}

// Validate checks the fields the playlist core requires.
func (s SegmentInfo) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("segment %d has an empty path", s.Index)
	}
	if s.Duration < 0 {
		return fmt.Errorf("segment %d has a negative duration %f", s.Index, s.Duration)
	}
	return nil
}
