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

package cli

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SpinnerFrames defines the animation frames for the spinner.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is an animated progress indicator for operations whose length
// is unknown, like draining a write pipeline. While running it shows the
// elapsed time next to the message, since collective operations that hang
// are best noticed by a clock that keeps climbing.
type Spinner struct {
	message string
	started time.Time
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	running bool
}

// NewSpinner creates a new spinner with the given message.
func NewSpinner(message string) *Spinner {
	return &Spinner{message: message}
}

// Start begins the spinner animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.started = time.Now()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		frame := 0
		for {
			select {
			case <-s.stop:
				fmt.Print("\r\033[K")
				return
			case <-ticker.C:
				elapsed := time.Since(s.started).Round(100 * time.Millisecond)
				fmt.Printf("\r%s %s %s",
					Info(SpinnerFrames[frame%len(SpinnerFrames)]),
					s.message,
					Dimmed(elapsed.String()))
				frame++
			}
		}
	}()
}

// Stop stops the spinner animation and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

// StopWithSuccess stops the spinner and shows a success message.
func (s *Spinner) StopWithSuccess(message string) {
	s.Stop()
	PrintSuccess("%s", message)
}

// StopWithError stops the spinner and shows an error message.
func (s *Spinner) StopWithError(message string) {
	s.Stop()
	PrintError("%s", message)
}

// ProgressBar tracks how many of a fixed set of ranks have finished a
// collective workload. The count is always printed beside the bar --
// "which ranks are still in flight" is the number an operator actually
// reads off a rank-parallel run.
type ProgressBar struct {
	total   int
	width   int
	message string

	mu      sync.Mutex
	current int
}

// NewProgressBar creates a progress bar over total ranks.
func NewProgressBar(total int, message string) *ProgressBar {
	return &ProgressBar{total: total, width: 32, message: message}
}

// Update redraws the bar at the given completion count.
func (p *ProgressBar) Update(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current > p.total {
		current = p.total
	}
	p.current = current

	filled := 0
	if p.total > 0 {
		filled = p.width * p.current / p.total
	}
	bar := colorize(Green, strings.Repeat("█", filled)) + Dimmed(strings.Repeat("░", p.width-filled))
	fmt.Printf("\r[%s] %d/%d %s", bar, p.current, p.total, p.message)
}

// Complete fills the bar and moves to the next line.
func (p *ProgressBar) Complete() {
	p.Update(p.total)
	fmt.Println()
}
