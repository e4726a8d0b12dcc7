package automation

import (
	"fmt"
	"time"

	"github.com/flemzord/appcraft/internal/fetch"
)

const defaultTriggerWait = 5 * time.Second

// Config holds the automation.engine module configuration.
type Config struct {
	// MaxJobsPerApp caps the jobs an application may own. Defaults to 5.
	MaxJobsPerApp int `yaml:"max_jobs_per_app"`

	// TriggerWait bounds how long a data write waits for the jobs it
	// triggers. Defaults to 5s.
	TriggerWait time.Duration `yaml:"trigger_wait"`

	// FeedBuffer is the per-subscriber buffer of the live data feed.
	FeedBuffer int `yaml:"feed_buffer"`

	Fetch fetch.Config `yaml:"fetch"`
}

func (c *Config) defaults() {
	if c.MaxJobsPerApp == 0 {
		c.MaxJobsPerApp = DefaultMaxJobsPerApp
	}
	if c.TriggerWait == 0 {
		c.TriggerWait = defaultTriggerWait
	}
	if c.FeedBuffer == 0 {
		c.FeedBuffer = 64
	}
}

func (c *Config) validate() error {
	if c.MaxJobsPerApp < 0 {
		return fmt.Errorf("automation: max_jobs_per_app must be non-negative, got %d", c.MaxJobsPerApp)
	}
	if c.TriggerWait < 0 {
		return fmt.Errorf("automation: trigger_wait must be non-negative, got %s", c.TriggerWait)
	}
	if c.Fetch.Timeout < 0 {
		return fmt.Errorf("automation: fetch.timeout must be non-negative, got %s", c.Fetch.Timeout)
	}
	if c.Fetch.MaxBodyBytes < 0 {
		return fmt.Errorf("automation: fetch.max_body_bytes must be non-negative, got %d", c.Fetch.MaxBodyBytes)
	}
	return nil
}
