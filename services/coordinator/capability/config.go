// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// guardOverride mirrors GuardProfile with human-readable durations so
// operators can write "5m" instead of nanosecond counts.
type guardOverride struct {
	Breaker    bool   `yaml:"breaker"`
	RateLimit  int    `yaml:"rate_limit"`
	RateWindow string `yaml:"rate_window"`
	CacheTTL   string `yaml:"cache_ttl"`
	Exclusive  bool   `yaml:"exclusive"`
}

type guardFile struct {
	Capabilities map[string]guardOverride `yaml:"capabilities"`
}

// LoadGuardOverrides reads per-capability guard profiles from a YAML file:
//
//	capabilities:
//	  analysis:
//	    breaker: true
//	    rate_limit: 30
//	    rate_window: 1m
//	    cache_ttl: 5m
func LoadGuardOverrides(path string) (map[string]GuardProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading guard config: %w", err)
	}

	var file guardFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing guard config: %w", err)
	}

	overrides := make(map[string]GuardProfile, len(file.Capabilities))
	for name, override := range file.Capabilities {
		profile := GuardProfile{
			Breaker:   override.Breaker,
			RateLimit: override.RateLimit,
			Exclusive: override.Exclusive,
		}
		if override.RateWindow != "" {
			window, err := time.ParseDuration(override.RateWindow)
			if err != nil {
				return nil, fmt.Errorf("capability %q: bad rate_window: %w", name, err)
			}
			profile.RateWindow = window
		}
		if override.CacheTTL != "" {
			ttl, err := time.ParseDuration(override.CacheTTL)
			if err != nil {
				return nil, fmt.Errorf("capability %q: bad cache_ttl: %w", name, err)
			}
			profile.CacheTTL = ttl
		}
		overrides[name] = profile
	}
	return overrides, nil
}

// ApplyGuardOverrides replaces the guard profiles of already registered
// capabilities. Overrides naming unknown capabilities are an error so a
// typo in the config fails loudly at startup.
func (r *Registry) ApplyGuardOverrides(overrides map[string]GuardProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range overrides {
		if _, ok := r.caps[name]; !ok {
			return fmt.Errorf("guard override for unknown capability %q", name)
		}
	}
	for name, profile := range overrides {
		reg := r.caps[name]
		reg.Guards = profile
		r.caps[name] = reg
	}
	return nil
}
