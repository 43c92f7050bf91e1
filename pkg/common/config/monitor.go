package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type monitorFile struct {
	Monitor *struct {
		PollInterval         string   `yaml:"poll_interval"`
		RequestTimeout       string   `yaml:"request_timeout"`
		MaxBackoff           string   `yaml:"max_backoff"`
		MaxTransientFailures *int     `yaml:"max_transient_failures"`
		SeriesCapacity       *int     `yaml:"series_capacity"`
		TrackedMetrics       []string `yaml:"tracked_metrics"`
	} `yaml:"monitor"`
}

// Overlay applies the monitor block of a YAML file on top of m. Fields absent
// from the file keep their current value.
func (m *MonitorConfig) Overlay(path string) error {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}

	var file monitorFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return err
	}
	if file.Monitor == nil {
		return errors.New("monitor config file has no monitor block")
	}

	src := file.Monitor
	if err := setDuration(&m.PollInterval, src.PollInterval); err != nil {
		return err
	}
	if err := setDuration(&m.RequestTimeout, src.RequestTimeout); err != nil {
		return err
	}
	if err := setDuration(&m.MaxBackoff, src.MaxBackoff); err != nil {
		return err
	}
	if src.MaxTransientFailures != nil {
		m.MaxTransientFailures = *src.MaxTransientFailures
	}
	if src.SeriesCapacity != nil {
		m.SeriesCapacity = *src.SeriesCapacity
	}
	if len(src.TrackedMetrics) > 0 {
		m.TrackedMetrics = src.TrackedMetrics
	}
	m.normalize()
	return nil
}

func setDuration(dst *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func (m *MonitorConfig) normalize() {
	if m.PollInterval <= 0 {
		m.PollInterval = 2 * time.Second
	}
	if m.RequestTimeout <= 0 {
		m.RequestTimeout = m.PollInterval
	}
	if m.MaxBackoff < m.PollInterval {
		m.MaxBackoff = m.PollInterval
	}
	if m.SeriesCapacity <= 0 {
		m.SeriesCapacity = 20
	}
	if m.MaxTransientFailures < 0 {
		m.MaxTransientFailures = 0
	}
}
