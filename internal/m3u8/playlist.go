// Package m3u8 maintains HLS media playlists over a sliding window of
// segments and renders them, together with a multi-bitrate variant
// playlist, to the m3u8 text format.
package m3u8

import (
	"errors"
	"fmt"
	"strings"

	"hlsgen/internal/logger"
	"hlsgen/internal/models"
	"hlsgen/internal/resource"
)

// PlaylistType selects the mutability model of a media playlist.
type PlaylistType int

const (
	// TypeEvent playlists accept new segments for as long as the stream runs.
	TypeEvent PlaylistType = iota
	// TypeVOD playlists are immutable after finalization.
	TypeVOD
)

var (
	// ErrEmptyPath reports a segment with no relative path. This is a
	// caller bug, not a runtime condition.
	ErrEmptyPath = errors.New("m3u8: segment path is empty")
	// ErrNilResource reports a segment with no backing resource handle.
	ErrNilResource = errors.New("m3u8: segment backing resource is nil")
)

// entry is one segment line of a media playlist. It holds one reference
// to its backing resource for as long as it stays in the window.
type entry struct {
	url           string
	file          *resource.Handle
	title         string
	duration      float64
	length        uint64
	offset        uint64
	discontinuous bool
}

func newEntry(url string, file *resource.Handle, info models.SegmentInfo) (*entry, error) {
	if url == "" {
		return nil, ErrEmptyPath
	}
	if file == nil {
		return nil, ErrNilResource
	}
	return &entry{
		url:           url,
		file:          file.Ref(),
		title:         info.Title,
		duration:      info.Duration,
		length:        info.Length,
		offset:        info.Offset,
		discontinuous: info.Discontinuous,
	}, nil
}

// release drops the entry's reference to its backing resource.
func (e *entry) release() {
	e.file.Unref()
	e.file = nil
}

// Playlist is one HLS rendition: an ordered window of segment entries
// plus the header state needed to render them. Callers must serialize
// access; the playlist performs no locking and no I/O.
type Playlist struct {
	name       string
	baseURL    string
	bitrate    int
	version    uint
	windowSize float64
	allowCache bool
	byteRanges bool
	ptype      PlaylistType
	ended      bool
	sequence   uint
	entries    []*entry
	logger     logger.Logger
}

// NewPlaylist creates an event playlist. windowSize bounds the cumulative
// duration, in seconds, of retained segments; 0 keeps every segment.
// Byte-range addressing requires protocol version 4: requesting it on an
// older version logs a warning and falls back to whole-file segments.
func NewPlaylist(name, baseURL string, bitrate int, version uint, windowSize float64, allowCache, byteRanges bool, log logger.Logger) *Playlist {
	if byteRanges && version < 4 {
		log.Warnf("Byte-range segments require playlist version 4, rendition %s requested version %d; using whole-file segments", name, version)
		byteRanges = false
	}

	return &Playlist{
		name:       name,
		baseURL:    baseURL,
		bitrate:    bitrate,
		version:    version,
		windowSize: windowSize,
		allowCache: allowCache,
		byteRanges: byteRanges,
		ptype:      TypeEvent,
		logger:     log,
	}
}

// Name returns the rendition name.
func (p *Playlist) Name() string {
	return p.name
}

// Bitrate returns the bitrate advertised in the variant playlist.
func (p *Playlist) Bitrate() int {
	return p.bitrate
}

// Type returns the playlist's mutability model.
func (p *Playlist) Type() PlaylistType {
	return p.ptype
}

// SetType switches the mutability model. Once set to TypeVOD, appends
// become no-ops.
func (p *Playlist) SetType(t PlaylistType) {
	p.ptype = t
}

// Ended reports whether the end-list marker has been set.
func (p *Playlist) Ended() bool {
	return p.ended
}

// MarkEnded sets the terminal marker; subsequent renders carry the
// end-list tag.
func (p *Playlist) MarkEnded() {
	p.ended = true
}

// ByteRanges reports whether byte-range addressing is in effect after
// the version compatibility policy.
func (p *Playlist) ByteRanges() bool {
	return p.byteRanges
}

// Len returns the number of retained entries.
func (p *Playlist) Len() int {
	return len(p.entries)
}

// Sequence returns the logical index that the next appended segment
// would follow, i.e. one past the most recently added segment.
func (p *Playlist) Sequence() uint {
	return p.sequence
}

// Duration returns the cumulative duration in seconds of all retained
// entries.
func (p *Playlist) Duration() float64 {
	var total float64
	for _, e := range p.entries {
		total += e.duration
	}
	return total
}

// TargetDuration returns the maximum entry duration rounded to the
// nearest integer, or 0 for an empty window.
func (p *Playlist) TargetDuration() int {
	var target float64
	for _, e := range p.entries {
		if e.duration > target {
			target = e.duration
		}
	}
	return int(target + 0.5)
}

// AddSegment appends a finalized segment to the playlist. Entries are
// evicted from the front until the retained duration drops below the
// window size; the eviction check runs before the append, so the new
// segment is never evicted by its own arrival. Each evicted entry's
// backing resource is returned, oldest first, with a reference the
// caller now owns and must release once it is done with the file.
//
// Appending to a VOD playlist has no effect and reports added=false.
func (p *Playlist) AddSegment(file *resource.Handle, info models.SegmentInfo) (evicted []*resource.Handle, added bool, err error) {
	if p.ptype == TypeVOD {
		p.logger.Debugf("Ignoring segment %s: rendition %s is finalized", info.Path, p.name)
		return nil, false, nil
	}

	e, err := newEntry(joinURL(p.baseURL, info.Path), file, info)
	if err != nil {
		return nil, false, err
	}

	if p.windowSize > 0 {
		// Delete old entries from the playlist. A single long segment or
		// a shrunken window can age out several entries at once.
		for p.Duration() >= p.windowSize {
			old := p.entries[0]
			p.entries = p.entries[1:]
			evicted = append(evicted, old.file.Ref())
			old.release()
		}
	}

	p.sequence = info.Index + 1
	p.entries = append(p.entries, e)

	return evicted, true, nil
}

// Render produces the playlist document. It scans the retained window on
// every call; two renders without an intervening mutation are identical.
func (p *Playlist) Render() string {
	var sb strings.Builder

	sb.WriteString("#EXTM3U\n")
	sb.WriteString(fmt.Sprintf("#EXT-X-VERSION:%d\n", p.version))

	allowCache := "NO"
	if p.allowCache {
		allowCache = "YES"
	}
	sb.WriteString(fmt.Sprintf("#EXT-X-ALLOW-CACHE:%s\n", allowCache))

	// The media sequence is the logical index of the oldest retained
	// entry, so clients keep numbering correctly across evictions.
	sb.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", int(p.sequence)-len(p.entries)))
	sb.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", p.TargetDuration()))
	sb.WriteString("\n")

	for _, e := range p.entries {
		if e.discontinuous {
			sb.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		if p.byteRanges && e.length > 0 {
			sb.WriteString(fmt.Sprintf("#EXT-X-BYTERANGE:%d@%d\n", e.length, e.offset))
		}
		if p.version < 3 {
			sb.WriteString(fmt.Sprintf("#EXTINF:%d,%s\n", int(e.duration+0.5), e.title))
		} else {
			sb.WriteString(fmt.Sprintf("#EXTINF:%.2f,%s\n", e.duration, e.title))
		}
		sb.WriteString(e.url)
		sb.WriteString("\n")
	}

	if p.ended {
		sb.WriteString("#EXT-X-ENDLIST")
	}

	return sb.String()
}

// Close releases every retained entry's backing resource and empties the
// window. The playlist must not be used afterwards.
func (p *Playlist) Close() {
	for _, e := range p.entries {
		e.release()
	}
	p.entries = nil
}

// joinURL joins a base URL and a relative element with exactly one
// slash between them.
func joinURL(base, elem string) string {
	if base == "" {
		return elem
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(elem, "/")
}
