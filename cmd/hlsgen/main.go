package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"hlsgen/internal/config"
	"hlsgen/internal/logger"
	"hlsgen/internal/models"
	"hlsgen/internal/resource"
	"hlsgen/internal/session"
)

// fileSink writes rendered playlists into the configured output directory.
type fileSink struct {
	dir string
}

func (s *fileSink) WriteMaster(name string, data string) error {
	return os.WriteFile(filepath.Join(s.dir, name+".m3u8"), []byte(data), 0644)
}

func (s *fileSink) WritePlaylist(rendition string, data string) error {
	return os.WriteFile(filepath.Join(s.dir, rendition+".m3u8"), []byte(data), 0644)
}

func main() {
	// 1. Parse command-line arguments
	configFile := flag.String("c", "stream.json", "Path to the stream config file")
	logLevel := flag.String("L", "info", "Log level (error, warn, info, debug)")
	keepSegments := flag.Bool("k", false, "Keep segment files that age out of the window")
	flag.Parse()

	// 2. Initialize logger
	log := logger.NewLogger(*logLevel)
	log.Infof("Starting HLS playlist writer...")

	// 3. Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		log.Errorf("Failed to create output directory %s: %v", cfg.OutputDir, err)
		os.Exit(1)
	}
	log.Infof("Configuration loaded successfully for stream: %s (%d renditions)", cfg.Name, len(cfg.Renditions))

	// 4. Initialize the resource tracker and the stream session
	tracker := resource.NewTracker(log)
	tracker.Start()

	sess, err := session.New(log, cfg, &fileSink{dir: cfg.OutputDir})
	if err != nil {
		log.Errorf("Failed to create stream session: %v", err)
		os.Exit(1)
	}

	// 5. Decode segment events from stdin in the background. The
	// upstream muxer emits one JSON object per finalized segment.
	events := make(chan models.SegmentInfo, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var info models.SegmentInfo
			if err := json.Unmarshal(line, &info); err != nil {
				log.Warnf("Skipping malformed segment event: %v", err)
				continue
			}
			events <- info
		}
		if err := scanner.Err(); err != nil {
			log.Errorf("Error reading segment events: %v", err)
		}
	}()

	// 6. Apply events until the muxer closes the stream or we are told
	// to shut down.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

loop:
	for {
		select {
		case info, ok := <-events:
			if !ok {
				log.Infof("Segment event stream ended")
				break loop
			}
			applyEvent(log, sess, tracker, cfg.OutputDir, info, *keepSegments)
		case <-quit:
			log.Infof("Shutdown signal received")
			break loop
		}
	}

	// 7. Finalize: mark every rendition ended so the last written
	// playlists carry the end-list tag, then release retained resources.
	// Segment files still listed in the final playlists stay on disk.
	if err := sess.FinishAll(); err != nil {
		log.Errorf("Failed to finalize renditions: %v", err)
	}
	sess.Close()
	tracker.Sweep()
	tracker.Stop()

	log.Infof("HLS playlist writer exited gracefully")
}

// applyEvent feeds one finalized segment into the session and disposes
// of the files that aged out of the sliding window.
func applyEvent(log logger.Logger, sess *session.StreamSession, tracker *resource.Tracker, outputDir string, info models.SegmentInfo, keepSegments bool) {
	segPath := filepath.Join(outputDir, filepath.FromSlash(info.Path))
	file := resource.New(segPath, log, func() {
		log.Debugf("Released last reference to segment %s", segPath)
	})
	tracker.Track(file)

	evicted, err := sess.AddSegment(file, info)
	if err != nil {
		log.Warnf("Failed to add segment %s: %v", info.Path, err)
		file.Unref()
		return
	}

	// The playlist entry holds its own reference now; drop the creation
	// reference so the entry's lifetime governs the resource.
	file.Unref()

	for _, h := range evicted {
		if !keepSegments {
			if err := os.Remove(h.URI()); err != nil && !os.IsNotExist(err) {
				log.Warnf("Failed to remove expired segment %s: %v", h.URI(), err)
			} else {
				log.Infof("Removed expired segment %s", h.URI())
			}
		}
		h.Unref()
	}
}
