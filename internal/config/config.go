/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
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

// Package config holds the run-time tunables for a smiol context and file.
//
// The tunables are exposed as configuration rather than compile-time
// constants so a process can tune the write pipeline without a recompile.
package config

import "fmt"

// Config holds the tunables recognized by a smiol context.
type Config struct {
	// NReqs bounds the number of outstanding non-blocking buffered writes
	// before the writer must issue a collective wait-all.
	NReqs int `json:"n_reqs"`

	// BufSize is the size, in bytes, of the backend's attached buffer.
	BufSize int64 `json:"buf_size"`

	// AggFactor is the number of compute ranks per aggregation sub-group.
	// Zero disables intra-group aggregation.
	AggFactor int `json:"agg_factor"`

	// NumIOTasks is the total number of I/O ranks in the context.
	NumIOTasks int `json:"num_io_tasks"`

	// IOStride is the rank stride between I/O tasks.
	IOStride int `json:"io_stride"`
}

// DefaultConfig returns the production defaults: 512 outstanding
// requests and a 512 MiB attached buffer, aggregation disabled.
func DefaultConfig() *Config {
	return &Config{
		NReqs:      512,
		BufSize:    512 * 1024 * 1024,
		AggFactor:  0,
		NumIOTasks: 1,
		IOStride:   1,
	}
}

// Validate checks that the tunables are usable.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.NReqs <= 0 {
		return fmt.Errorf("n_reqs must be positive, got %d", c.NReqs)
	}
	if c.BufSize <= 0 {
		return fmt.Errorf("buf_size must be positive, got %d", c.BufSize)
	}
	if c.AggFactor < 0 {
		return fmt.Errorf("agg_factor must not be negative, got %d", c.AggFactor)
	}
	if c.IOStride <= 0 {
		return fmt.Errorf("io_stride must be positive, got %d", c.IOStride)
	}
	if c.NumIOTasks <= 0 {
		return fmt.Errorf("num_io_tasks must be positive, got %d", c.NumIOTasks)
	}
	return nil
}

// AggregationEnabled reports whether intra-group aggregation is enabled.
func (c *Config) AggregationEnabled() bool {
	return c.AggFactor >= 2
}
