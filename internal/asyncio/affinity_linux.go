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

//go:build linux

package asyncio

import (
	"runtime"

	"golang.org/x/sys/unix"

	"smiol/internal/logging"
)

// WriterCPUs names the worker CPU set the writer thread is pinned to.
// Two cores distinct from the compute cores is a hint, not a contract;
// a process that has fewer than len(WriterCPUs) CPUs available simply
// gets whichever of these indices exist.
var WriterCPUs = []int{0, 1}

// pinWriterThread locks the calling goroutine to its own OS thread and
// restricts that thread's affinity to WriterCPUs. Failures are logged
// and otherwise ignored: affinity is a scheduling hint, not something
// correctness depends on.
func pinWriterThread(log *logging.Logger) {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	for _, cpu := range WriterCPUs {
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil && log != nil {
		log.Debug("writer thread affinity pin failed", "error", err, "cpus", WriterCPUs)
	}
}
