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

package smiol

import (
	"fmt"

	"smiol/internal/asyncio"
	"smiol/internal/backend"
	"smiol/internal/config"
	"smiol/internal/logging"
	"smiol/internal/transport"
)

// DimID and VarID identify dimensions and variables within one file.
type DimID = backend.DimID
type VarID = backend.VarID

// GlobalAttr addresses a file's global attributes rather than a
// per-variable attribute, for DefineAtt/InquireAtt.
const GlobalAttr = backend.GlobalAttr

// UnlimitedDim is the sentinel size DefineDim takes for the record
// (unlimited) dimension.
const UnlimitedDim = backend.UnlimitedDim

// MaxNameLength bounds dimension, variable, and attribute names; names
// travel between ranks in fixed 64-byte buffers.
const MaxNameLength = backend.MaxNameLength

// FileState is the file state machine's two states.
type FileState int

const (
	DEFINE FileState = iota
	DATA
)

// String names a FileState for diagnostics.
func (s FileState) String() string {
	if s == DEFINE {
		return "DEFINE"
	}
	return "DATA"
}

// File tracks DEFINE/DATA mode, the current record frame, and the
// attached-buffer write pipeline for one backend file. Its backend
// handle is only valid on I/O-task ranks; every other field is kept
// consistent across a file's I/O group by the "I/O rank acts, group
// broadcasts status" protocol (actAndBroadcast/actAndBroadcastBytes,
// below).
type File struct {
	ctx *Context
	cfg *config.Config
	log *logging.Logger

	ioTask  transport.Comm // this file's duplicated I/O-task communicator
	ioGroup transport.Comm // this file's duplicated I/O-group communicator

	be          backend.Backend // valid only when ctx.IsIOTask()
	bufAttached bool

	mode  FileState
	frame int64

	pipeline *asyncio.Pipeline

	// dimSizes/varMeta cache the results of DefineDim/DefineVar and
	// InquireDim/InquireVar: every rank in a file's I/O group receives
	// the same answer via actAndBroadcastBytes, so caching it locally
	// after the first resolution costs no extra collective call and
	// lets put_var/get_var compute a variable's on-disk layout (which
	// dimension is decomposed, which is the record dimension, how many
	// trailing elements each index carries) without re-querying the
	// backend on every write.
	dimSizes map[DimID]int64
	varMeta  map[VarID]definedVar

	valid bool
}

// definedVar is the cached shape of one variable: its element size and
// the dimensions it was defined over, in order.
type definedVar struct {
	ElemSize int
	Dims     []DimID
}

// OpenFile opens or creates a file according to mode. CREATE and WRITE
// attach the backend's fixed-size buffer and leave the file in DEFINE
// (CREATE) or DATA (WRITE) mode; READ leaves it in DATA mode with no
// buffer attached.
func OpenFile(ctx *Context, path string, mode FileMode) (*File, error) {
	if ctx == nil || !ctx.valid {
		return nil, newError(INVALID_ARGUMENT, "nil or invalid context")
	}
	if mode == 0 {
		return nil, newError(INVALID_ARGUMENT, "file mode must set at least one of CREATE/WRITE/READ")
	}
	if path == "" {
		return nil, newError(INVALID_ARGUMENT, "empty path")
	}

	f := &File{
		ctx:      ctx,
		cfg:      ctx.cfg,
		log:      ctx.log.With("file", path),
		ioTask:   ctx.ioTask.Dup(),
		ioGroup:  ctx.ioGroup.Dup(),
		dimSizes: make(map[DimID]int64),
		varMeta:  make(map[VarID]definedVar),
		valid:    true,
	}
	if ctx.IsIOTask() {
		f.be = backend.NewMemBackend()
	}

	attach := mode.has(FileCreate) || mode.has(FileWrite)
	openErr := f.actAndBroadcast(func() error {
		switch {
		case mode.has(FileCreate):
			if err := f.be.Create(path); err != nil {
				return err
			}
		case mode.has(FileWrite), mode.has(FileRead):
			if err := f.be.Open(path); err != nil {
				return err
			}
		default:
			return fmt.Errorf("file: unsupported mode combination %d", mode)
		}
		if attach {
			return f.be.AttachBuffer(f.cfg.BufSize)
		}
		return nil
	})
	if openErr != nil {
		f.ioGroup.Free()
		f.ioTask.Free()
		return nil, wrapError(LIBRARY_ERROR, "open_file", openErr)
	}

	f.bufAttached = attach
	if mode.has(FileCreate) {
		f.mode = DEFINE
	} else {
		f.mode = DATA
	}

	if ctx.IsIOTask() {
		f.pipeline = asyncio.NewPipeline(f.ioTask, f.be, f.cfg, f.log)
	}
	f.log.Info("file opened", "mode", mode, "state", f.mode)
	return f, nil
}

// CloseFile drains and joins the writer, detaches the backend buffer
// (if attached) and closes the backend file on I/O ranks, then frees
// the file's communicators.
func CloseFile(f *File) error {
	if f == nil || !f.valid {
		return nil
	}
	var pipelineErr error
	if f.pipeline != nil {
		pipelineErr = f.pipeline.Shutdown()
	}

	closeErr := f.actAndBroadcast(func() error {
		if f.bufAttached {
			if err := f.be.DetachBuffer(); err != nil {
				return err
			}
		}
		return f.be.Close()
	})

	f.ioGroup.Free()
	f.ioTask.Free()
	f.valid = false

	if pipelineErr != nil {
		return wrapError(ASYNC_ERROR, "close_file: pending write failed", pipelineErr)
	}
	if closeErr != nil {
		return wrapError(LIBRARY_ERROR, "close_file", closeErr)
	}
	return nil
}

// SyncFile drains the write pipeline -- every descriptor enqueued
// before the call has retired by the time it returns -- and asks the
// backend to sync.
func SyncFile(f *File) error {
	if f == nil || !f.valid {
		return newError(INVALID_ARGUMENT, "invalid file")
	}
	if f.pipeline != nil {
		if err := f.pipeline.Drain(); err != nil {
			return wrapError(ASYNC_ERROR, "sync_file: pending write failed", err)
		}
	}
	if err := f.ensureData(); err != nil {
		return err
	}
	return f.actAndBroadcast(func() error { return f.be.Sync() })
}

// SetFrame adjusts the record-dimension index used by subsequent
// writes. It is purely local: no collective action.
func SetFrame(f *File, frame int64) error {
	if f == nil || !f.valid {
		return newError(INVALID_ARGUMENT, "invalid file")
	}
	if frame < 0 {
		return newError(INVALID_ARGUMENT, "frame must be non-negative")
	}
	f.frame = frame
	return nil
}

// GetFrame returns the file's current record-dimension index.
func GetFrame(f *File) (int64, error) {
	if f == nil || !f.valid {
		return 0, newError(INVALID_ARGUMENT, "invalid file")
	}
	return f.frame, nil
}

// ensureDefine performs the DATA -> DEFINE transition (redef) if the
// file is currently in DATA mode.
func (f *File) ensureDefine() error {
	if f.mode == DEFINE {
		return nil
	}
	// The writer posts buffered writes against data mode; drain it
	// before flipping the backend back into define mode.
	if f.pipeline != nil {
		if err := f.pipeline.Drain(); err != nil {
			return wrapError(ASYNC_ERROR, "redef: pending write failed", err)
		}
	}
	if err := f.actAndBroadcast(func() error { return f.be.Redef() }); err != nil {
		return wrapError(LIBRARY_ERROR, "redef", err)
	}
	f.mode = DEFINE
	f.log.Debug("file mode transition", "to", f.mode)
	return nil
}

// ensureData performs the DEFINE -> DATA transition (enddef) if the
// file is currently in DEFINE mode.
func (f *File) ensureData() error {
	if f.mode == DATA {
		return nil
	}
	if err := f.actAndBroadcast(func() error { return f.be.Enddef() }); err != nil {
		return wrapError(LIBRARY_ERROR, "enddef", err)
	}
	f.mode = DATA
	f.log.Debug("file mode transition", "to", f.mode)
	return nil
}

// DefineDim defines a new dimension, redef-ing into DEFINE mode first
// if necessary. size is backend.UnlimitedDim for the record dimension.
func DefineDim(f *File, name string, size int64) (DimID, error) {
	if f == nil || !f.valid {
		return 0, newError(INVALID_ARGUMENT, "invalid file")
	}
	if len(name) == 0 || len(name) >= MaxNameLength {
		return 0, newError(INVALID_ARGUMENT, fmt.Sprintf("dimension name length must be in [1,%d)", MaxNameLength))
	}
	if err := f.ensureDefine(); err != nil {
		return 0, err
	}
	out, err := f.actAndBroadcastBytes(func() ([]byte, error) {
		id, err := f.be.DefDim(name, size)
		if err != nil {
			return nil, err
		}
		return encodeInts(int64(id)), nil
	})
	if err != nil {
		return 0, wrapError(LIBRARY_ERROR, "define_dim", err)
	}
	id := DimID(decodeInts(out)[0])
	f.dimSizes[id] = size
	return id, nil
}

// InquireDim resolves a dimension's id and size by name.
func InquireDim(f *File, name string) (DimID, int64, error) {
	if f == nil || !f.valid {
		return 0, 0, newError(INVALID_ARGUMENT, "invalid file")
	}
	out, err := f.actAndBroadcastBytes(func() ([]byte, error) {
		id, size, err := f.be.InqDim(name)
		if err != nil {
			return nil, err
		}
		return encodeInts(int64(id), size), nil
	})
	if err != nil {
		return 0, 0, wrapError(LIBRARY_ERROR, "inquire_dim", err)
	}
	vals := decodeInts(out)
	id, size := DimID(vals[0]), vals[1]
	f.dimSizes[id] = size
	return id, size, nil
}

// DefineVar defines a new variable over dims, redef-ing into DEFINE
// mode first if necessary.
func DefineVar(f *File, name string, varType VarType, dims []DimID) (VarID, error) {
	if f == nil || !f.valid {
		return 0, newError(INVALID_ARGUMENT, "invalid file")
	}
	if len(name) == 0 || len(name) >= MaxNameLength {
		return 0, newError(INVALID_ARGUMENT, fmt.Sprintf("variable name length must be in [1,%d)", MaxNameLength))
	}
	elemSize, err := varType.elemSize()
	if err != nil {
		return 0, err
	}
	if err := f.ensureDefine(); err != nil {
		return 0, err
	}
	out, err := f.actAndBroadcastBytes(func() ([]byte, error) {
		id, err := f.be.DefVar(name, elemSize, dims)
		if err != nil {
			return nil, err
		}
		return encodeInts(int64(id)), nil
	})
	if err != nil {
		return 0, wrapError(LIBRARY_ERROR, "define_var", err)
	}
	id := VarID(decodeInts(out)[0])
	f.varMeta[id] = definedVar{ElemSize: elemSize, Dims: append([]DimID(nil), dims...)}
	return id, nil
}

// InquireVar resolves a variable's id, element size, and dimension
// list by name.
func InquireVar(f *File, name string) (VarID, int, []DimID, error) {
	if f == nil || !f.valid {
		return 0, 0, nil, newError(INVALID_ARGUMENT, "invalid file")
	}
	out, err := f.actAndBroadcastBytes(func() ([]byte, error) {
		id, elemSize, dims, err := f.be.InqVar(name)
		if err != nil {
			return nil, err
		}
		vals := make([]int64, 0, 2+len(dims))
		vals = append(vals, int64(id), int64(elemSize), int64(len(dims)))
		for _, d := range dims {
			vals = append(vals, int64(d))
		}
		return encodeInts(vals...), nil
	})
	if err != nil {
		return 0, 0, nil, wrapError(LIBRARY_ERROR, "inquire_var", err)
	}
	vals := decodeInts(out)
	id, elemSize, ndims := vals[0], vals[1], vals[2]
	dims := make([]DimID, ndims)
	for i := range dims {
		dims[i] = DimID(vals[3+int64(i)])
	}
	f.varMeta[VarID(id)] = definedVar{ElemSize: int(elemSize), Dims: append([]DimID(nil), dims...)}
	return VarID(id), int(elemSize), dims, nil
}

// DefineAtt attaches an attribute to varID (or the file itself, if
// varID is GlobalAttr), redef-ing into DEFINE mode first if necessary.
func DefineAtt(f *File, varID VarID, name string, value []byte) error {
	if f == nil || !f.valid {
		return newError(INVALID_ARGUMENT, "invalid file")
	}
	if len(name) == 0 || len(name) >= MaxNameLength {
		return newError(INVALID_ARGUMENT, fmt.Sprintf("attribute name length must be in [1,%d)", MaxNameLength))
	}
	if err := f.ensureDefine(); err != nil {
		return err
	}
	if err := f.actAndBroadcast(func() error { return f.be.PutAtt(varID, name, value) }); err != nil {
		return wrapError(LIBRARY_ERROR, "define_att", err)
	}
	return nil
}

// InquireAtt returns the byte length of an attribute attached to
// varID (or the file itself, if varID is GlobalAttr).
func InquireAtt(f *File, varID VarID, name string) (int, error) {
	if f == nil || !f.valid {
		return 0, newError(INVALID_ARGUMENT, "invalid file")
	}
	out, err := f.actAndBroadcastBytes(func() ([]byte, error) {
		n, err := f.be.InqAtt(varID, name)
		if err != nil {
			return nil, err
		}
		return encodeInts(int64(n)), nil
	})
	if err != nil {
		return 0, wrapError(LIBRARY_ERROR, "inquire_att", err)
	}
	return int(decodeInts(out)[0]), nil
}

// dimSize resolves a dimension's size by id, from the local cache when
// the dimension was defined or inquired through this File, falling back
// to a collective backend lookup otherwise (a file opened READ has an
// empty cache until the first inquiry). The cache is populated
// identically on every rank of the I/O group -- the results all arrive
// through actAndBroadcastBytes -- so either every rank hits the cache or
// every rank takes the collective path, keeping the call collective-safe.
func (f *File) dimSize(id DimID) (int64, error) {
	if sz, ok := f.dimSizes[id]; ok {
		return sz, nil
	}
	out, err := f.actAndBroadcastBytes(func() ([]byte, error) {
		name, err := f.be.DimName(id)
		if err != nil {
			return nil, err
		}
		_, size, err := f.be.InqDim(name)
		if err != nil {
			return nil, err
		}
		return encodeInts(size), nil
	})
	if err != nil {
		return 0, wrapError(LIBRARY_ERROR, "inquire_dim", err)
	}
	sz := decodeInts(out)[0]
	f.dimSizes[id] = sz
	return sz, nil
}

// ioGroupRoot is the rank, within a file's I/O group, that performs
// backend I/O on the group's behalf. Context.Init splits the I/O group
// by key=rank with the I/O rank always landing first.
const ioGroupRoot = 0

// actAndBroadcast runs fn on the I/O rank only, then broadcasts its
// success/failure to the rest of the I/O group -- the "I/O rank acts,
// I/O-group broadcasts status" pattern every file state transition and
// metadata call goes through.
func (f *File) actAndBroadcast(fn func() error) error {
	_, err := f.actAndBroadcastBytes(func() ([]byte, error) {
		return nil, fn()
	})
	return err
}

// actAndBroadcastBytes runs fn on the I/O rank only, broadcasts its
// errno, and -- on success -- broadcasts its variable-length payload to
// the rest of the I/O group. Every rank, including the I/O rank, returns
// the same payload and the same error.
func (f *File) actAndBroadcastBytes(fn func() ([]byte, error)) ([]byte, error) {
	var payload []byte
	var errno int
	if f.ctx.IsIOTask() {
		out, err := fn()
		if err != nil {
			errno = backend.RegisterErrno(err)
		} else {
			payload = out
		}
	}

	hdr := encodeInts(int64(errno), int64(len(payload)))
	if err := f.ioGroup.Bcast(hdr, ioGroupRoot); err != nil {
		return nil, wrapError(MPI_ERROR, "status broadcast failed", err)
	}
	vals := decodeInts(hdr)
	bcastErrno, bcastLen := int(vals[0]), vals[1]

	if bcastErrno != 0 {
		msg := backend.ErrnoString(bcastErrno)
		f.ctx.latchBackendError(backend.MemBackendKind, bcastErrno)
		return nil, libraryError(backend.MemBackendKind, bcastErrno, msg)
	}
	if bcastLen == 0 {
		return nil, nil
	}

	if payload == nil {
		payload = make([]byte, bcastLen)
	}
	if err := f.ioGroup.Bcast(payload, ioGroupRoot); err != nil {
		return nil, wrapError(MPI_ERROR, "payload broadcast failed", err)
	}
	return payload, nil
}
