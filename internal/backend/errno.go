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

package backend

import "sync"

// RegisterErrno and ErrnoString give memBackend a fixed, resolvable
// errno namespace, the Go analogue of a real backend library's opaque
// per-error integer codes. smiol's Context latches (Kind, errno) pairs
// verbatim on LIBRARY_ERROR; ErrnoString is how a caller's
// lib_error_string call resolves that integer back to text.
var (
	errnoMu   sync.Mutex
	errnoOf   = map[string]int{}
	msgOf     = map[int]string{}
	nextErrno = 1
)

// RegisterErrno assigns a stable small integer to err's message,
// reusing the same integer for repeated occurrences of the same
// message. It returns 0 for a nil error.
func RegisterErrno(err error) int {
	if err == nil {
		return 0
	}
	msg := err.Error()
	errnoMu.Lock()
	defer errnoMu.Unlock()
	if code, ok := errnoOf[msg]; ok {
		return code
	}
	code := nextErrno
	nextErrno++
	errnoOf[msg] = code
	msgOf[code] = msg
	return code
}

// ErrnoString resolves a previously-registered errno back to its
// message, or a placeholder if it is unknown (e.g. from a different
// process in a real distributed run).
func ErrnoString(errno int) string {
	errnoMu.Lock()
	defer errnoMu.Unlock()
	if msg, ok := msgOf[errno]; ok {
		return msg
	}
	return "unknown backend error"
}
