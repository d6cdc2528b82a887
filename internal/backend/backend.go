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

/*
Package backend stands in for the parallel file library smiol writes
through (parallel-netCDF, in a real deployment). Backend exposes exactly the
primitives the rest of smiol calls: define/data mode transitions, the
attached buffer used for non-blocking buffered writes, and the request
table that turns a BputVara into a materialized write at WaitAll. There
is one concrete implementation, memBackend, an in-memory stand-in that
makes the library runnable and testable without a parallel filesystem.
*/
package backend

import (
	"fmt"
)

// MemBackendKind identifies the in-memory Backend implementation in
// latched (kind, errno) error reports.
const MemBackendKind = "memBackend"

// MaxNameLength bounds dimension, variable, and attribute names; names
// travel between ranks in fixed 64-byte buffers.
const MaxNameLength = 64

// DimID and VarID identify dimensions and variables within one file.
type DimID int
type VarID int

// UnlimitedDim is the sentinel size recorded for the unlimited (record)
// dimension.
const UnlimitedDim int64 = -1

// GlobalAttr is the sentinel VarID used to address a file's global
// attributes rather than a per-variable attribute.
const GlobalAttr VarID = -1

// Backend is the narrow interface smiol programs against in place of a
// real parallel-netCDF library handle.
type Backend interface {
	// Create opens path for writing, creating it if it does not exist
	// (an existing file's contents are kept, not truncated), and leaves
	// the file in define mode. Open opens an existing file in data mode.
	Create(path string) error
	Open(path string) error
	Close() error
	Sync() error

	// Redef and Enddef move the file between define mode and data mode.
	// InDataMode reports the current mode.
	Redef() error
	Enddef() error
	InDataMode() bool

	// AttachBuffer reserves a size-byte buffer for non-blocking buffered
	// writes; DetachBuffer releases it and fails while requests are
	// still outstanding.
	AttachBuffer(size int64) error
	DetachBuffer() error
	InqBufferUsage() (int64, error)

	DefDim(name string, size int64) (DimID, error)
	InqDim(name string) (DimID, int64, error)
	DimName(id DimID) (string, error)

	DefVar(name string, elemSize int, dims []DimID) (VarID, error)
	InqVar(name string) (VarID, int, []DimID, error)
	VarName(id VarID) (string, error)

	PutAtt(varID VarID, name string, value []byte) error
	GetAtt(varID VarID, name string) ([]byte, error)
	InqAtt(varID VarID, name string) (int, error)

	// PutVara and GetVara perform an immediate, blocking transfer of
	// count elements starting at start.
	PutVara(id VarID, start, count []int64, buf []byte) error
	GetVara(id VarID, start, count []int64, buf []byte) error

	// BputVara queues a non-blocking buffered write against the
	// attached buffer and returns a request id. The write is not
	// visible to GetVara until WaitAll retires it.
	BputVara(id VarID, start, count []int64, buf []byte) (int, error)
	WaitAll(reqIDs []int) error
}

// NotFoundError reports that a named dimension, variable, or attribute
// does not exist.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}
