package m3u8

import (
	"fmt"
	"strings"

	"hlsgen/internal/logger"
)

// VariantPlaylist is the top-level multi-bitrate index: a registry of
// named media playlists rendered as a master playlist. The registry
// keeps insertion order so renders are reproducible. The variant
// playlist owns the playlists registered with it.
type VariantPlaylist struct {
	name    string
	baseURL string
	names   []string
	byName  map[string]*Playlist
	cached  string
	logger  logger.Logger
}

// NewVariantPlaylist creates an empty variant playlist and caches its
// (header-only) render.
func NewVariantPlaylist(name, baseURL string, log logger.Logger) *VariantPlaylist {
	v := &VariantPlaylist{
		name:    name,
		baseURL: baseURL,
		byName:  make(map[string]*Playlist),
		logger:  log,
	}
	v.update()
	return v
}

// Name returns the variant playlist's name.
func (v *VariantPlaylist) Name() string {
	return v.name
}

// Register adds a media playlist to the registry, taking ownership of
// it, and refreshes the cached master render. Names are unique keys: a
// duplicate name is refused and leaves the registry and cached render
// untouched.
func (v *VariantPlaylist) Register(p *Playlist) bool {
	if _, exists := v.byName[p.Name()]; exists {
		v.logger.Warnf("Rendition %s is already registered with variant playlist %s", p.Name(), v.name)
		return false
	}
	v.names = append(v.names, p.Name())
	v.byName[p.Name()] = p
	v.update()
	return true
}

// Variant looks up a registered playlist by name. Ownership stays with
// the variant playlist.
func (v *VariantPlaylist) Variant(name string) (*Playlist, bool) {
	p, found := v.byName[name]
	return p, found
}

// Unregister removes the named playlist, releases its retained
// resources, and refreshes the cached master render. It reports false
// when no playlist of that name is registered.
func (v *VariantPlaylist) Unregister(name string) bool {
	p, found := v.byName[name]
	if !found {
		return false
	}

	delete(v.byName, name)
	for i, n := range v.names {
		if n == name {
			v.names = append(v.names[:i], v.names[i+1:]...)
			break
		}
	}
	p.Close()
	v.update()
	return true
}

// Render returns the cached master playlist document. The cache is
// recomputed on every registry mutation, so no scan happens here.
func (v *VariantPlaylist) Render() string {
	return v.cached
}

// Close releases every registered playlist and empties the registry.
func (v *VariantPlaylist) Close() {
	for _, name := range v.names {
		v.byName[name].Close()
	}
	v.names = nil
	v.byName = make(map[string]*Playlist)
	v.update()
}

func (v *VariantPlaylist) update() {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	for _, name := range v.names {
		p := v.byName[name]
		sb.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=%d\n", p.Bitrate()))
		sb.WriteString(joinURL(v.baseURL, p.Name()+".m3u8"))
		sb.WriteString("\n")
	}
	v.cached = sb.String()
}
