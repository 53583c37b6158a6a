package config

import (
	"encoding/json"
	"fmt"
	"os"
)

const defaultVersion = 3

// Rendition defines the final, processed settings for a single rendition.
type Rendition struct {
	Name    string
	Bitrate int
}

// StreamConfig holds the fully processed stream configuration.
type StreamConfig struct {
	Name       string
	BaseURL    string
	OutputDir  string
	Version    uint
	WindowSize float64
	AllowCache bool
	ByteRanges bool
	Renditions []Rendition
}

// rawRendition is used for intermediate unmarshaling from the JSON file.
type rawRendition struct {
	Name    string `json:"Name"`
	Bitrate int    `json:"Bitrate"`
}

// rawConfig is the intermediate structure that maps directly to the JSON file.
type rawConfig struct {
	Name       string         `json:"Name"`
	BaseURL    string         `json:"BaseURL"`
	OutputDir  string         `json:"OutputDir"`
	Version    uint           `json:"Version"`
	WindowSize float64        `json:"WindowSize"`
	AllowCache bool           `json:"AllowCache"`
	ByteRanges bool           `json:"ByteRanges"`
	Renditions []rawRendition `json:"Renditions"`
}

// LoadConfig reads and parses the stream configuration file from the
// given path, applying defaults and validating the rendition set.
func LoadConfig(path string) (*StreamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var rawCfg rawConfig
	if err := json.Unmarshal(data, &rawCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config JSON: %w", err)
	}

	if rawCfg.Name == "" {
		return nil, fmt.Errorf("config is missing a stream name")
	}
	if len(rawCfg.Renditions) == 0 {
		return nil, fmt.Errorf("config for stream '%s' declares no renditions", rawCfg.Name)
	}

	version := rawCfg.Version
	if version == 0 {
		version = defaultVersion
	}
	if rawCfg.WindowSize < 0 {
		return nil, fmt.Errorf("invalid window size %f for stream '%s'", rawCfg.WindowSize, rawCfg.Name)
	}

	// Process the raw renditions into the final, clean Rendition structs.
	seen := make(map[string]struct{}, len(rawCfg.Renditions))
	renditions := make([]Rendition, 0, len(rawCfg.Renditions))
	for _, rr := range rawCfg.Renditions {
		if rr.Name == "" {
			return nil, fmt.Errorf("stream '%s' has a rendition with no name", rawCfg.Name)
		}
		if _, exists := seen[rr.Name]; exists {
			return nil, fmt.Errorf("duplicate rendition name found in config: %s", rr.Name)
		}
		if rr.Bitrate <= 0 {
			return nil, fmt.Errorf("rendition '%s' has an invalid bitrate %d", rr.Name, rr.Bitrate)
		}
		seen[rr.Name] = struct{}{}
		renditions = append(renditions, Rendition{
			Name:    rr.Name,
			Bitrate: rr.Bitrate,
		})
	}

	return &StreamConfig{
		Name:       rawCfg.Name,
		BaseURL:    rawCfg.BaseURL,
		OutputDir:  rawCfg.OutputDir,
		Version:    version,
		WindowSize: rawCfg.WindowSize,
		AllowCache: rawCfg.AllowCache,
		ByteRanges: rawCfg.ByteRanges,
		Renditions: renditions,
	}, nil
}
