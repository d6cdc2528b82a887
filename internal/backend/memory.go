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

import (
	"fmt"
	"sync"

	"smiol/internal/compression"
)

type dimEntry struct {
	name string
	size int64 // UnlimitedDim for the record dimension
}

type varEntry struct {
	name     string
	elemSize int
	dims     []DimID
	data     []byte // flat, row-major storage; grows as frames are written
	atts     map[string][]byte
}

// memFile is the shared state of one path: the dimensions, variables,
// attributes, and data every rank's handle sees. It is what the
// parallel filesystem holds in a real deployment, which is why it
// lives in a process-global registry rather than inside any one
// handle -- every I/O rank that opens the same path must observe the
// same file, and a path must survive close and re-open.
type memFile struct {
	mu sync.Mutex

	dims    []*dimEntry
	dimIdx  map[string]DimID
	vars    []*varEntry
	varIdx  map[string]VarID
	globals map[string][]byte
}

var (
	fsMu  sync.Mutex
	memFS = map[string]*memFile{}
)

func lookupOrCreate(path string, create bool) (*memFile, error) {
	fsMu.Lock()
	defer fsMu.Unlock()
	if f, ok := memFS[path]; ok {
		return f, nil
	}
	if !create {
		return nil, &NotFoundError{Kind: "file", Name: path}
	}
	f := &memFile{
		dimIdx:  make(map[string]DimID),
		varIdx:  make(map[string]VarID),
		globals: make(map[string][]byte),
	}
	memFS[path] = f
	return f, nil
}

type pendingReq struct {
	varID   VarID
	start   []int64
	count   []int64
	payload []byte // snappy-compressed
	rawLen  int64
}

// memBackend is one rank's handle onto an in-memory stand-in for a
// parallel-netCDF file. Shared file content (dimensions, variables,
// data) lives in the path registry above; the handle holds what is
// private to one rank in the real library too: its define/data mode
// view, its attached buffer accounting, and its table of pending
// buffered writes that only become visible at WaitAll. Tests observe
// the library's back-pressure and wait-all behavior through exactly
// this split.
//
// Definitions are idempotent across handles: every I/O rank issues the
// same DefDim/DefVar collectively, and re-defining an identical entry
// resolves to the existing id, the way a collective define does.
//
// Buffered write payloads are snappy-compressed while resident in the
// pending-request table and decompressed when WaitAll materializes
// them into variable storage.
type memBackend struct {
	mu sync.Mutex

	path     string
	file     *memFile
	dataMode bool
	closed   bool

	bufAttached bool
	bufSize     int64
	bufUsed     int64

	nextReq int
	pending map[int]*pendingReq

	comp *compression.Compressor
}

// NewMemBackend returns an unopened handle onto the in-memory
// filesystem.
func NewMemBackend() Backend {
	comp, err := compression.New(compression.AlgorithmSnappy)
	if err != nil {
		// Snappy needs no setup; New only fails for unknown algorithms.
		panic(err)
	}
	return &memBackend{
		pending: make(map[int]*pendingReq),
		comp:    comp,
	}
}

func (b *memBackend) Create(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := lookupOrCreate(path, true)
	if err != nil {
		return err
	}
	b.path = path
	b.file = f
	b.dataMode = false
	b.closed = false
	return nil
}

func (b *memBackend) Open(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := lookupOrCreate(path, false)
	if err != nil {
		return err
	}
	b.path = path
	b.file = f
	b.dataMode = true
	b.closed = false
	return nil
}

func (b *memBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) != 0 {
		return fmt.Errorf("backend: Close with %d outstanding buffered requests", len(b.pending))
	}
	b.closed = true
	return nil
}

func (b *memBackend) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("backend: Sync on closed file")
	}
	return nil
}

func (b *memBackend) Redef() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dataMode {
		return fmt.Errorf("backend: Redef while already in define mode")
	}
	b.dataMode = false
	return nil
}

func (b *memBackend) Enddef() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dataMode {
		return fmt.Errorf("backend: Enddef while already in data mode")
	}
	b.dataMode = true
	return nil
}

func (b *memBackend) InDataMode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataMode
}

func (b *memBackend) AttachBuffer(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bufAttached {
		return fmt.Errorf("backend: a buffer is already attached")
	}
	if size <= 0 {
		return fmt.Errorf("backend: AttachBuffer requires a positive size")
	}
	b.bufAttached = true
	b.bufSize = size
	b.bufUsed = 0
	return nil
}

func (b *memBackend) DetachBuffer() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bufAttached {
		return fmt.Errorf("backend: no buffer is attached")
	}
	if len(b.pending) != 0 {
		return fmt.Errorf("backend: DetachBuffer with %d outstanding requests", len(b.pending))
	}
	b.bufAttached = false
	b.bufSize = 0
	b.bufUsed = 0
	return nil
}

func (b *memBackend) InqBufferUsage() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bufAttached {
		return 0, fmt.Errorf("backend: no buffer is attached")
	}
	return b.bufUsed, nil
}

func (b *memBackend) DefDim(name string, size int64) (DimID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return 0, fmt.Errorf("backend: DefDim before Create/Open")
	}
	if b.dataMode {
		return 0, fmt.Errorf("backend: DefDim requires define mode")
	}
	if len(name) == 0 || len(name) >= MaxNameLength {
		return 0, fmt.Errorf("backend: dimension name length must be in [1,%d)", MaxNameLength)
	}
	f := b.file
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, exists := f.dimIdx[name]; exists {
		// Collective define: identical re-definition from a peer rank
		// resolves to the existing dimension.
		if f.dims[id].size != size {
			return 0, fmt.Errorf("backend: dimension %q already defined with size %d", name, f.dims[id].size)
		}
		return id, nil
	}
	id := DimID(len(f.dims))
	f.dims = append(f.dims, &dimEntry{name: name, size: size})
	f.dimIdx[name] = id
	return id, nil
}

func (b *memBackend) InqDim(name string) (DimID, int64, error) {
	f, err := b.sharedFile()
	if err != nil {
		return 0, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.dimIdx[name]
	if !ok {
		return 0, 0, &NotFoundError{Kind: "dimension", Name: name}
	}
	return id, f.dims[id].size, nil
}

func (b *memBackend) DimName(id DimID) (string, error) {
	f, err := b.sharedFile()
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(id) < 0 || int(id) >= len(f.dims) {
		return "", fmt.Errorf("backend: invalid dimension id %d", id)
	}
	return f.dims[id].name, nil
}

func (b *memBackend) DefVar(name string, elemSize int, dims []DimID) (VarID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return 0, fmt.Errorf("backend: DefVar before Create/Open")
	}
	if b.dataMode {
		return 0, fmt.Errorf("backend: DefVar requires define mode")
	}
	if len(name) == 0 || len(name) >= MaxNameLength {
		return 0, fmt.Errorf("backend: variable name length must be in [1,%d)", MaxNameLength)
	}
	f := b.file
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range dims {
		if int(d) < 0 || int(d) >= len(f.dims) {
			return 0, fmt.Errorf("backend: invalid dimension id %d in DefVar(%q)", d, name)
		}
	}
	if id, exists := f.varIdx[name]; exists {
		if !sameVarShape(f.vars[id], elemSize, dims) {
			return 0, fmt.Errorf("backend: variable %q already defined with a different shape", name)
		}
		return id, nil
	}
	id := VarID(len(f.vars))
	f.vars = append(f.vars, &varEntry{
		name:     name,
		elemSize: elemSize,
		dims:     append([]DimID(nil), dims...),
		atts:     make(map[string][]byte),
	})
	f.varIdx[name] = id
	return id, nil
}

func sameVarShape(v *varEntry, elemSize int, dims []DimID) bool {
	if v.elemSize != elemSize || len(v.dims) != len(dims) {
		return false
	}
	for i, d := range dims {
		if v.dims[i] != d {
			return false
		}
	}
	return true
}

func (b *memBackend) InqVar(name string) (VarID, int, []DimID, error) {
	f, err := b.sharedFile()
	if err != nil {
		return 0, 0, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.varIdx[name]
	if !ok {
		return 0, 0, nil, &NotFoundError{Kind: "variable", Name: name}
	}
	v := f.vars[id]
	return id, v.elemSize, append([]DimID(nil), v.dims...), nil
}

func (b *memBackend) VarName(id VarID) (string, error) {
	f, err := b.sharedFile()
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(id) < 0 || int(id) >= len(f.vars) {
		return "", fmt.Errorf("backend: invalid variable id %d", id)
	}
	return f.vars[id].name, nil
}

func (b *memBackend) sharedFile() (*memFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil, fmt.Errorf("backend: no file is open on this handle")
	}
	return b.file, nil
}

func attrTable(f *memFile, varID VarID) (map[string][]byte, error) {
	if varID == GlobalAttr {
		return f.globals, nil
	}
	if int(varID) < 0 || int(varID) >= len(f.vars) {
		return nil, fmt.Errorf("backend: invalid variable id %d", varID)
	}
	return f.vars[varID].atts, nil
}

func (b *memBackend) PutAtt(varID VarID, name string, value []byte) error {
	b.mu.Lock()
	if b.dataMode {
		b.mu.Unlock()
		return fmt.Errorf("backend: PutAtt requires define mode")
	}
	f := b.file
	b.mu.Unlock()
	if f == nil {
		return fmt.Errorf("backend: PutAtt before Create/Open")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	table, err := attrTable(f, varID)
	if err != nil {
		return err
	}
	table[name] = append([]byte(nil), value...)
	return nil
}

func (b *memBackend) GetAtt(varID VarID, name string) ([]byte, error) {
	f, err := b.sharedFile()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	table, err := attrTable(f, varID)
	if err != nil {
		return nil, err
	}
	v, ok := table[name]
	if !ok {
		return nil, &NotFoundError{Kind: "attribute", Name: name}
	}
	return append([]byte(nil), v...), nil
}

func (b *memBackend) InqAtt(varID VarID, name string) (int, error) {
	v, err := b.GetAtt(varID, name)
	if err != nil {
		return 0, err
	}
	return len(v), nil
}

// flatOffset computes the byte offset and extent of [start,start+count)
// within v's row-major storage. The unlimited dimension must be the
// outermost; its extent comes from start[0]/count[0] directly rather
// than from a fixed dimension size. Caller holds f.mu.
func flatOffset(f *memFile, v *varEntry, start, count []int64) (offset, length int64, err error) {
	if len(start) != len(v.dims) || len(count) != len(v.dims) {
		return 0, 0, fmt.Errorf("backend: start/count rank mismatch for variable %q", v.name)
	}
	if len(v.dims) == 0 {
		return 0, int64(v.elemSize), nil
	}
	// stride[i] = product of fixed sizes of dims[i+1:]
	strides := make([]int64, len(v.dims))
	strides[len(v.dims)-1] = 1
	for i := len(v.dims) - 2; i >= 0; i-- {
		sz := f.dims[v.dims[i+1]].size
		if sz == UnlimitedDim {
			return 0, 0, fmt.Errorf("backend: unlimited dimension must be the outermost dimension of %q", v.name)
		}
		strides[i] = strides[i+1] * sz
	}
	for i := range v.dims {
		offset += start[i] * strides[i]
	}
	length = int64(v.elemSize)
	for _, c := range count {
		length *= c
	}
	return offset * int64(v.elemSize), length, nil
}

func ensureCapacity(v *varEntry, byteOffset, byteLen int64) {
	need := byteOffset + byteLen
	if int64(len(v.data)) >= need {
		return
	}
	grown := make([]byte, need)
	copy(grown, v.data)
	v.data = grown
}

func (b *memBackend) PutVara(id VarID, start, count []int64, buf []byte) error {
	b.mu.Lock()
	if !b.dataMode {
		b.mu.Unlock()
		return fmt.Errorf("backend: PutVara requires data mode")
	}
	f := b.file
	b.mu.Unlock()
	if f == nil {
		return fmt.Errorf("backend: PutVara before Create/Open")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(id) < 0 || int(id) >= len(f.vars) {
		return fmt.Errorf("backend: invalid variable id %d", id)
	}
	v := f.vars[id]
	offset, length, err := flatOffset(f, v, start, count)
	if err != nil {
		return err
	}
	if int64(len(buf)) < length {
		return fmt.Errorf("backend: PutVara buffer too small: have %d bytes, need %d", len(buf), length)
	}
	ensureCapacity(v, offset, length)
	copy(v.data[offset:offset+length], buf[:length])
	return nil
}

func (b *memBackend) GetVara(id VarID, start, count []int64, buf []byte) error {
	f, err := b.sharedFile()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(id) < 0 || int(id) >= len(f.vars) {
		return fmt.Errorf("backend: invalid variable id %d", id)
	}
	v := f.vars[id]
	offset, length, err := flatOffset(f, v, start, count)
	if err != nil {
		return err
	}
	if int64(len(buf)) < length {
		return fmt.Errorf("backend: GetVara buffer too small: have %d bytes, need %d", len(buf), length)
	}
	if offset+length > int64(len(v.data)) {
		// Reads past anything ever written return zeroed storage, same
		// as a freshly extended netCDF record variable.
		for i := int64(0); i < length; i++ {
			buf[i] = 0
		}
		avail := int64(len(v.data)) - offset
		if avail > 0 {
			copy(buf[:avail], v.data[offset:])
		}
		return nil
	}
	copy(buf[:length], v.data[offset:offset+length])
	return nil
}

func (b *memBackend) BputVara(id VarID, start, count []int64, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dataMode {
		return 0, fmt.Errorf("backend: BputVara requires data mode")
	}
	if !b.bufAttached {
		return 0, fmt.Errorf("backend: BputVara with no buffer attached")
	}
	f := b.file
	if f == nil {
		return 0, fmt.Errorf("backend: BputVara before Create/Open")
	}

	f.mu.Lock()
	if int(id) < 0 || int(id) >= len(f.vars) {
		f.mu.Unlock()
		return 0, fmt.Errorf("backend: invalid variable id %d", id)
	}
	_, length, err := flatOffset(f, f.vars[id], start, count)
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if int64(len(buf)) < length {
		return 0, fmt.Errorf("backend: BputVara buffer too small: have %d bytes, need %d", len(buf), length)
	}
	if b.bufUsed+length > b.bufSize {
		return 0, fmt.Errorf("backend: insufficient space in attached buffer: used %d, requested %d, capacity %d", b.bufUsed, length, b.bufSize)
	}
	compressed, err := b.comp.Compress(buf[:length])
	if err != nil {
		return 0, err
	}
	reqID := b.nextReq
	b.nextReq++
	b.pending[reqID] = &pendingReq{
		varID:   id,
		start:   append([]int64(nil), start...),
		count:   append([]int64(nil), count...),
		payload: compressed,
		rawLen:  length,
	}
	b.bufUsed += length
	return reqID, nil
}

func (b *memBackend) WaitAll(reqIDs []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.file
	if f == nil {
		return fmt.Errorf("backend: WaitAll before Create/Open")
	}
	for _, rid := range reqIDs {
		req, ok := b.pending[rid]
		if !ok {
			return fmt.Errorf("backend: WaitAll on unknown request id %d", rid)
		}
		raw, err := b.comp.Decompress(req.payload)
		if err != nil {
			return fmt.Errorf("backend: corrupt buffered payload for request %d: %w", rid, err)
		}
		if int64(len(raw)) != req.rawLen {
			return fmt.Errorf("backend: decompressed payload length mismatch for request %d", rid)
		}
		f.mu.Lock()
		v := f.vars[req.varID]
		offset, length, err := flatOffset(f, v, req.start, req.count)
		if err != nil {
			f.mu.Unlock()
			return err
		}
		ensureCapacity(v, offset, length)
		copy(v.data[offset:offset+length], raw)
		f.mu.Unlock()
		b.bufUsed -= req.rawLen
		delete(b.pending, rid)
	}
	return nil
}
