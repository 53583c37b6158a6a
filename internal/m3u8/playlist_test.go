package m3u8

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlsgen/internal/logger"
	"hlsgen/internal/models"
	"hlsgen/internal/resource"
)

func testLogger() logger.Logger {
	return logger.NewWriterLogger("error", io.Discard)
}

func testHandle(t *testing.T, uri string) *resource.Handle {
	t.Helper()
	return resource.New(uri, testLogger(), nil)
}

func addSegment(t *testing.T, p *Playlist, path string, duration float64, index uint) []*resource.Handle {
	t.Helper()
	evicted, added, err := p.AddSegment(testHandle(t, path), models.SegmentInfo{
		Path:     path,
		Duration: duration,
		Index:    index,
	})
	require.NoError(t, err)
	require.True(t, added)
	return evicted
}

func TestRenderEmptyPlaylist(t *testing.T) {
	p := NewPlaylist("low", "http://example.com/live", 500000, 3, 0, true, false, testLogger())

	lines := strings.Split(p.Render(), "\n")
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:3", lines[1])
	assert.Equal(t, "#EXT-X-ALLOW-CACHE:YES", lines[2])
	assert.Equal(t, "#EXT-X-MEDIA-SEQUENCE:0", lines[3])
	assert.Equal(t, "#EXT-X-TARGETDURATION:0", lines[4])
	assert.Equal(t, "", lines[5])
}

func TestRenderEntries(t *testing.T) {
	p := NewPlaylist("low", "http://example.com/live", 500000, 3, 0, false, false, testLogger())
	addSegment(t, p, "seg0.ts", 6.0, 0)
	addSegment(t, p, "seg1.ts", 5.5, 1)

	lines := strings.Split(p.Render(), "\n")
	assert.Equal(t, "#EXT-X-ALLOW-CACHE:NO", lines[2])
	assert.Equal(t, "#EXT-X-MEDIA-SEQUENCE:0", lines[3])
	assert.Equal(t, "#EXT-X-TARGETDURATION:6", lines[4])
	assert.Equal(t, "#EXTINF:6.00,", lines[6])
	assert.Equal(t, "http://example.com/live/seg0.ts", lines[7])
	assert.Equal(t, "#EXTINF:5.50,", lines[8])
	assert.Equal(t, "http://example.com/live/seg1.ts", lines[9])
}

func TestRenderDurationFormatting(t *testing.T) {
	// Version >= 3 renders two-decimal durations, older versions render
	// rounded integers.
	v3 := NewPlaylist("low", "http://x", 500000, 3, 0, true, false, testLogger())
	addSegment(t, v3, "seg0.ts", 6.0, 0)
	assert.Contains(t, v3.Render(), "#EXTINF:6.00,\n")

	v2 := NewPlaylist("low", "http://x", 500000, 2, 0, true, false, testLogger())
	addSegment(t, v2, "seg0.ts", 6.0, 0)
	assert.Contains(t, v2.Render(), "#EXTINF:6,\n")

	v2b := NewPlaylist("low", "http://x", 500000, 2, 0, true, false, testLogger())
	addSegment(t, v2b, "seg0.ts", 5.6, 0)
	assert.Contains(t, v2b.Render(), "#EXTINF:6,\n")
}

func TestRenderTitle(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 0, true, false, testLogger())
	_, added, err := p.AddSegment(testHandle(t, "seg0.ts"), models.SegmentInfo{
		Path:     "seg0.ts",
		Title:    "opening",
		Duration: 4,
	})
	require.NoError(t, err)
	require.True(t, added)

	assert.Contains(t, p.Render(), "#EXTINF:4.00,opening\n")
}

func TestTargetDurationRounding(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 0, true, false, testLogger())
	addSegment(t, p, "seg0.ts", 4.2, 0)
	addSegment(t, p, "seg1.ts", 5.6, 1)

	assert.Equal(t, 6, p.TargetDuration())
	assert.Contains(t, p.Render(), "#EXT-X-TARGETDURATION:6\n")
}

func TestWindowScenario(t *testing.T) {
	// Window of 10 seconds, three 4-second segments: the eviction check
	// runs before each append, so after the third append all three
	// entries are still retained and nothing has been evicted yet.
	p := NewPlaylist("low", "http://x", 500000, 3, 10, true, false, testLogger())

	assert.Empty(t, addSegment(t, p, "seg0.ts", 4, 0))
	assert.Empty(t, addSegment(t, p, "seg1.ts", 4, 1))
	assert.Empty(t, addSegment(t, p, "seg2.ts", 4, 2))

	assert.Equal(t, 3, p.Len())
	assert.Equal(t, uint(3), p.Sequence())
	assert.InDelta(t, 12.0, p.Duration(), 0.001)

	// The fourth append sees 12s >= 10s and evicts the oldest entry.
	evicted := addSegment(t, p, "seg3.ts", 4, 3)
	require.Len(t, evicted, 1)
	assert.Equal(t, "seg0.ts", evicted[0].URI())
	assert.Equal(t, "http://x/seg1.ts", p.entries[0].url)
	assert.Equal(t, 3, p.Len())
	for _, h := range evicted {
		h.Unref()
	}
}

func TestEvictionMultipleEntries(t *testing.T) {
	// A single over-long segment forces the eviction loop to clear the
	// whole window before appending.
	p := NewPlaylist("low", "http://x", 500000, 3, 5, true, false, testLogger())
	addSegment(t, p, "seg0.ts", 2, 0)
	addSegment(t, p, "seg1.ts", 2, 1)
	addSegment(t, p, "seg2.ts", 10, 2)

	evicted := addSegment(t, p, "seg3.ts", 2, 3)
	require.Len(t, evicted, 3)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, uint(4), p.Sequence())
	for _, h := range evicted {
		h.Unref()
	}
}

func TestEvictedResourcesOldestFirst(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 5, true, false, testLogger())
	h0 := testHandle(t, "seg0.ts")
	h1 := testHandle(t, "seg1.ts")

	for i, h := range []*resource.Handle{h0, h1} {
		_, added, err := p.AddSegment(h, models.SegmentInfo{
			Path:     fmt.Sprintf("seg%d.ts", i),
			Duration: 3,
			Index:    uint(i),
		})
		require.NoError(t, err)
		require.True(t, added)
	}

	evicted := addSegment(t, p, "seg2.ts", 3, 2)
	require.Len(t, evicted, 2)
	assert.Same(t, h0, evicted[0])
	assert.Same(t, h1, evicted[1])

	// Each evicted handle carries the reference transferred to the
	// caller on top of the creator's: the entry's own reference is gone.
	assert.Equal(t, 2, evicted[0].Refs())
	for _, h := range evicted {
		h.Unref()
	}
	assert.Equal(t, 1, h0.Refs())
}

func TestWindowInvariantAcrossAppends(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 12, true, false, testLogger())

	durations := []float64{4, 6, 3, 5, 2, 7, 4, 4}
	for i, d := range durations {
		evicted, added, err := p.AddSegment(testHandle(t, fmt.Sprintf("s%d.ts", i)), models.SegmentInfo{
			Path:     fmt.Sprintf("s%d.ts", i),
			Duration: d,
			Index:    uint(i),
		})
		require.NoError(t, err)
		require.True(t, added)
		for _, h := range evicted {
			h.Unref()
		}
		// Eviction ran before the append, so everything retained besides
		// the newest entry stays below the window bound.
		assert.Less(t, p.Duration()-d, p.windowSize)
		assert.Equal(t, uint(i)+1, p.Sequence())
	}
}

func TestSequenceTracksLogicalIndex(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 6, true, false, testLogger())
	addSegment(t, p, "seg10.ts", 4, 10)
	evicted := addSegment(t, p, "seg11.ts", 4, 11)
	for _, h := range evicted {
		h.Unref()
	}

	assert.Equal(t, uint(12), p.Sequence())
	// media sequence = sequence - retained entries
	assert.Contains(t, p.Render(), fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", 12-p.Len()))
}

func TestVODAppendIsNoop(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 0, true, false, testLogger())
	addSegment(t, p, "seg0.ts", 4, 0)
	p.SetType(TypeVOD)

	before := p.Render()
	h := testHandle(t, "seg1.ts")
	evicted, added, err := p.AddSegment(h, models.SegmentInfo{Path: "seg1.ts", Duration: 4, Index: 1})
	assert.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, evicted)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, before, p.Render())
	// The rejected segment's handle was never referenced by the playlist.
	assert.Equal(t, 1, h.Refs())
}

func TestAddSegmentContractViolations(t *testing.T) {
	p := NewPlaylist("low", "", 500000, 3, 0, true, false, testLogger())

	_, _, err := p.AddSegment(testHandle(t, "x"), models.SegmentInfo{Path: "", Duration: 4})
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, _, err = p.AddSegment(nil, models.SegmentInfo{Path: "seg0.ts", Duration: 4})
	assert.ErrorIs(t, err, ErrNilResource)
	assert.Equal(t, 0, p.Len())
}

func TestRenderIdempotent(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 0, true, false, testLogger())
	addSegment(t, p, "seg0.ts", 4, 0)
	addSegment(t, p, "seg1.ts", 4, 1)

	assert.Equal(t, p.Render(), p.Render())
}

func TestDiscontinuityTag(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 0, true, false, testLogger())
	addSegment(t, p, "seg0.ts", 4, 0)
	_, added, err := p.AddSegment(testHandle(t, "seg1.ts"), models.SegmentInfo{
		Path:          "seg1.ts",
		Duration:      4,
		Index:         1,
		Discontinuous: true,
	})
	require.NoError(t, err)
	require.True(t, added)

	assert.Contains(t, p.Render(), "#EXT-X-DISCONTINUITY\n#EXTINF:4.00,\nhttp://x/seg1.ts\n")
	assert.NotContains(t, strings.SplitN(p.Render(), "seg0.ts", 2)[0], "#EXT-X-DISCONTINUITY")
}

func TestEndListTag(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 0, true, false, testLogger())
	addSegment(t, p, "seg0.ts", 4, 0)

	assert.NotContains(t, p.Render(), "#EXT-X-ENDLIST")
	p.MarkEnded()
	assert.True(t, strings.HasSuffix(p.Render(), "\n#EXT-X-ENDLIST"))
}

func TestByteRangeDowngradeBelowVersion4(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWriterLogger("warn", &buf)

	p := NewPlaylist("low", "http://x", 500000, 3, 0, true, true, log)
	assert.False(t, p.ByteRanges())
	assert.Contains(t, buf.String(), "version 4")

	// No byterange tags even when entries carry range data.
	_, added, err := p.AddSegment(testHandle(t, "all.ts"), models.SegmentInfo{
		Path:     "all.ts",
		Duration: 4,
		Length:   1500,
		Offset:   300,
	})
	require.NoError(t, err)
	require.True(t, added)
	assert.NotContains(t, p.Render(), "#EXT-X-BYTERANGE")
}

func TestByteRangeTagAtVersion4(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 4, 0, true, true, testLogger())
	require.True(t, p.ByteRanges())

	_, added, err := p.AddSegment(testHandle(t, "all.ts"), models.SegmentInfo{
		Path:     "all.ts",
		Duration: 4,
		Length:   1500,
		Offset:   300,
	})
	require.NoError(t, err)
	require.True(t, added)

	assert.Contains(t, p.Render(), "#EXT-X-BYTERANGE:1500@300\n#EXTINF:4.00,\nhttp://x/all.ts\n")
}

func TestCloseReleasesEntries(t *testing.T) {
	p := NewPlaylist("low", "http://x", 500000, 3, 0, true, false, testLogger())
	h := testHandle(t, "seg0.ts")
	_, added, err := p.AddSegment(h, models.SegmentInfo{Path: "seg0.ts", Duration: 4})
	require.NoError(t, err)
	require.True(t, added)
	assert.Equal(t, 2, h.Refs())

	p.Close()
	assert.Equal(t, 1, h.Refs())
	assert.Equal(t, 0, p.Len())
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://x/low.m3u8", joinURL("http://x/", "low.m3u8"))
	assert.Equal(t, "http://x/low.m3u8", joinURL("http://x", "/low.m3u8"))
	assert.Equal(t, "low.m3u8", joinURL("", "low.m3u8"))
}
