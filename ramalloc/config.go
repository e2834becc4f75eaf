/*
 * Copyright 2026 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ramalloc

import (
	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "CAPMM"

// Config tunes the boot allocator.
type Config struct {
	// PageSize is the alignment of Alloc and the size of slab refill pages.
	PageSize uint64 `envconfig:"PAGE_SIZE" yaml:"page_size"`

	// StaticSlabRecords is the number of node records seeded before any
	// memory is managed.
	StaticSlabRecords int `envconfig:"STATIC_SLAB_RECORDS" yaml:"static_slab_records"`

	// SlabRefillThreshold is the free record count that triggers a slab refill.
	SlabRefillThreshold int `envconfig:"SLAB_REFILL_THRESHOLD" yaml:"slab_refill_threshold"`

	// CNodeSlots is the slot count of every cnode used for new capabilities.
	CNodeSlots int `envconfig:"CNODE_SLOTS" yaml:"cnode_slots"`

	LogLevel string `envconfig:"LOG_LEVEL" yaml:"log_level"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		PageSize:            4096,
		StaticSlabRecords:   64,
		SlabRefillThreshold: 8,
		CNodeSlots:          256,
		LogLevel:            "info",
	}
}

// LoadConfig returns DefaultConfig overridden by CAPMM_* environment variables.
func LoadConfig() (*Config, error) {
	c := DefaultConfig()
	if err := c.FromEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromEnv overrides c with the CAPMM_* variables that are set.
func (c *Config) FromEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return errors.Wrap(err, "ramalloc: read environment")
	}
	return nil
}

// Validate checks c for values the allocator cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0:
		return errors.Newf("ramalloc: page size must be a power of two, got %d", c.PageSize)
	case c.SlabRefillThreshold < 4:
		// slab pages come from the allocator itself
		return errors.Newf("ramalloc: slab refill threshold must be >= 4, got %d", c.SlabRefillThreshold)
	case c.StaticSlabRecords < c.SlabRefillThreshold:
		return errors.Newf("ramalloc: %d static slab records are below the refill threshold %d",
			c.StaticSlabRecords, c.SlabRefillThreshold)
	case c.CNodeSlots <= 0:
		return errors.Newf("ramalloc: cnode slots must be > 0, got %d", c.CNodeSlots)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "ramalloc: log level")
	}
	return nil
}

// Level returns the parsed log level, or info if it does not parse.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
