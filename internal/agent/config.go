// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package agent

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjgordon/labportal/internal/security"
)

// DefaultPollInterval is used when LABPORTAL_POLL_INTERVAL is unset.
const DefaultPollInterval = 10 * time.Second

// Config is the agent configuration, read from the environment.
type Config struct {
	HostID       string
	URL          string
	Token        security.Secret
	PollInterval time.Duration
}

// flagKeys maps agent command flags onto the viper keys they override.
var flagKeys = map[string]string{
	"host-id":       "host_id",
	"url":           "url",
	"poll-interval": "poll_interval",
}

// LoadConfig reads LABPORTAL_HOST_ID, LABPORTAL_URL, LABPORTAL_AGENT_TOKEN
// and the optional LABPORTAL_POLL_INTERVAL. Flags of cmd, when given,
// override the environment. The token is only ever taken from the
// environment so it does not show up in process listings.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("labportal")
	v.AutomaticEnv()
	v.SetDefault("poll_interval", DefaultPollInterval.String())

	if cmd != nil {
		for flag, key := range flagKeys {
			if f := cmd.Flags().Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}
	}

	cfg := Config{
		HostID: strings.TrimSpace(v.GetString("host_id")),
		URL:    strings.TrimSpace(v.GetString("url")),
		Token:  security.FromString(strings.TrimSpace(v.GetString("agent_token"))),
	}

	var missing []string
	if cfg.HostID == "" {
		missing = append(missing, "LABPORTAL_HOST_ID")
	}
	if cfg.URL == "" {
		missing = append(missing, "LABPORTAL_URL")
	}
	if cfg.Token.Empty() {
		missing = append(missing, "LABPORTAL_AGENT_TOKEN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("LABPORTAL_URL must be an http(s) URL, got %q", cfg.URL)
	}
	if !security.IsAgentToken(cfg.Token.Reveal()) {
		return Config{}, fmt.Errorf("LABPORTAL_AGENT_TOKEN is not an agent token")
	}

	interval, err := ParsePollInterval(v.GetString("poll_interval"))
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval = interval
	return cfg, nil
}

// ParsePollInterval accepts a Go duration ("15s", "2m") or a plain number
// of seconds. Empty yields DefaultPollInterval.
func ParsePollInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPollInterval, nil
	}
	var d time.Duration
	if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid poll interval %q: %w", s, err)
		}
	}
	if d < time.Second {
		return 0, fmt.Errorf("poll interval %q must be at least one second", s)
	}
	return d, nil
}
