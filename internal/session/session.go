package session

import (
	"fmt"
	"sync"

	"hlsgen/internal/config"
	"hlsgen/internal/logger"
	"hlsgen/internal/m3u8"
	"hlsgen/internal/models"
	"hlsgen/internal/resource"
)

// Sink receives rendered playlist documents. The session passes the
// destination through without interpreting it; implementations decide
// whether the text lands on disk, in memory, or somewhere else.
type Sink interface {
	WriteMaster(name string, data string) error
	WritePlaylist(rendition string, data string) error
}

// StreamSession holds all playlist state for a single live stream: one
// variant playlist with one media playlist per configured rendition.
// All mutations are serialized behind a single mutex, so the upstream
// pipeline may report segments from any goroutine.
type StreamSession struct {
	Name   string
	Logger logger.Logger

	mutex      sync.Mutex
	variant    *m3u8.VariantPlaylist
	renditions []string
	sink       Sink
}

// New builds the session from the stream configuration, registers every
// rendition with the variant playlist, and writes the master playlist
// once through the sink.
func New(log logger.Logger, cfg *config.StreamConfig, sink Sink) (*StreamSession, error) {
	variant := m3u8.NewVariantPlaylist(cfg.Name, cfg.BaseURL, log)
	renditions := make([]string, 0, len(cfg.Renditions))

	for _, r := range cfg.Renditions {
		p := m3u8.NewPlaylist(r.Name, cfg.BaseURL, r.Bitrate, cfg.Version, cfg.WindowSize, cfg.AllowCache, cfg.ByteRanges, log)
		if !variant.Register(p) {
			variant.Close()
			return nil, fmt.Errorf("rendition '%s' is declared twice for stream '%s'", r.Name, cfg.Name)
		}
		renditions = append(renditions, r.Name)
	}

	if err := sink.WriteMaster(cfg.Name, variant.Render()); err != nil {
		variant.Close()
		return nil, fmt.Errorf("failed to write master playlist for stream '%s': %w", cfg.Name, err)
	}

	log.Infof("Created session for stream %s with %d renditions", cfg.Name, len(renditions))

	return &StreamSession{
		Name:       cfg.Name,
		Logger:     log,
		variant:    variant,
		renditions: renditions,
		sink:       sink,
	}, nil
}

// Renditions returns the configured rendition names in registration order.
func (s *StreamSession) Renditions() []string {
	return s.renditions
}

// MasterPlaylist returns the rendered master playlist text.
func (s *StreamSession) MasterPlaylist() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.variant.Render()
}

// MediaPlaylist renders the named rendition's playlist.
func (s *StreamSession) MediaPlaylist(rendition string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, found := s.variant.Variant(rendition)
	if !found {
		return "", fmt.Errorf("rendition '%s' not found in stream '%s'", rendition, s.Name)
	}
	return p.Render(), nil
}

// AddSegment applies one finalized segment to its rendition, rewrites
// that rendition's playlist through the sink, and returns the backing
// resources of any segments that aged out of the window. The caller owns
// the returned references and releases them once the underlying files
// may be removed.
func (s *StreamSession) AddSegment(file *resource.Handle, info models.SegmentInfo) ([]*resource.Handle, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, found := s.variant.Variant(info.Rendition)
	if !found {
		return nil, fmt.Errorf("rendition '%s' not found in stream '%s'", info.Rendition, s.Name)
	}

	evicted, added, err := p.AddSegment(file, info)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, nil
	}

	if err := s.sink.WritePlaylist(info.Rendition, p.Render()); err != nil {
		return evicted, fmt.Errorf("failed to write playlist for rendition '%s': %w", info.Rendition, err)
	}

	s.Logger.Debugf("Added segment %s to rendition %s: %d entries, %.2fs retained, %d evicted",
		info.Path, info.Rendition, p.Len(), p.Duration(), len(evicted))

	return evicted, nil
}

// Finish marks a rendition ended and immutable, then writes its final
// render. Segments reported after this point are ignored by the
// playlist, which is the normal finalize-then-append ordering in a live
// pipeline.
func (s *StreamSession) Finish(rendition string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, found := s.variant.Variant(rendition)
	if !found {
		return fmt.Errorf("rendition '%s' not found in stream '%s'", rendition, s.Name)
	}

	p.MarkEnded()
	p.SetType(m3u8.TypeVOD)

	if err := s.sink.WritePlaylist(rendition, p.Render()); err != nil {
		return fmt.Errorf("failed to write final playlist for rendition '%s': %w", rendition, err)
	}

	s.Logger.Infof("Finished rendition %s of stream %s", rendition, s.Name)
	return nil
}

// FinishAll finishes every rendition, keeping the first error.
func (s *StreamSession) FinishAll() error {
	var firstErr error
	for _, name := range s.renditions {
		if err := s.Finish(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases every retained segment resource. The session must not
// be used afterwards.
func (s *StreamSession) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.variant.Close()
	s.Logger.Infof("Closed session for stream %s", s.Name)
}
