package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes one marketing site: how to recognise its tab, where its
// product-detail images live and where its product notice table is.
type Profile struct {
	Name           string   `yaml:"name"`
	TitleMarkers   []string `yaml:"title_markers"`
	Queries        []string `yaml:"queries"`
	NoticeSelector string   `yaml:"notice_selector"`
	MinWidth       float64  `yaml:"min_width"`
	MinHeight      float64  `yaml:"min_height"`
	Confidence     int      `yaml:"confidence"`
}

// LoadProfile reads a YAML site profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse profile %s: %w", path, err)
	}
	return &p, nil
}

// Apply overlays the non-zero profile fields onto cfg.
func (p *Profile) Apply(cfg *Config) {
	if len(p.TitleMarkers) > 0 {
		cfg.Browser.TitleMarkers = p.TitleMarkers
	}
	if len(p.Queries) > 0 {
		cfg.Selector.Queries = p.Queries
	}
	if p.NoticeSelector != "" {
		cfg.Notice.Selector = p.NoticeSelector
	}
	if p.MinWidth > 0 {
		cfg.Selector.MinWidth = p.MinWidth
	}
	if p.MinHeight > 0 {
		cfg.Selector.MinHeight = p.MinHeight
	}
	if p.Confidence > 0 {
		cfg.Selector.Confidence = p.Confidence
	}
}
