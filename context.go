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
	"smiol/internal/backend"
	"smiol/internal/config"
	"smiol/internal/logging"
	"smiol/internal/transport"
)

// Context is the process-wide handle a parent communicator is turned
// into by Init. It owns the duplicated parent communicator, the
// derived I/O-task and I/O-group communicators, and the process's
// latched backend error state. A Context may be shared by many Files
// and Decompositions; nothing about it changes after Init except the
// latched error fields.
type Context struct {
	cfg *config.Config
	log *logging.Logger

	parent  transport.Comm // duplicated parent communicator
	ioTask  transport.Comm // split by color=isIOTask
	ioGroup transport.Comm // split by color=rank/stride; I/O rank is always position 0

	rank       int
	isIOTask   bool
	numIOTasks int
	stride     int

	// Latched backend error state, overwritten on every LIBRARY_ERROR
	// returned anywhere through this context; holds the most recent one.
	backendKind  string
	backendErrno int

	valid bool
}

// Init duplicates parentComm (smiol never writes through an
// application-owned communicator), computes isIOTask = rank%stride==0,
// and performs two colour splits: the I/O-task split (color =
// isIOTask) and the I/O-group split (color = rank/stride). Both splits
// key on rank, so every I/O group lists its I/O rank first.
func Init(parentComm transport.Comm, numIOTasks, stride int, cfg *config.Config) (*Context, error) {
	if parentComm == nil {
		return nil, newError(INVALID_ARGUMENT, "nil parent communicator")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.NumIOTasks = numIOTasks
	cfg.IOStride = stride
	if err := cfg.Validate(); err != nil {
		return nil, wrapError(INVALID_ARGUMENT, "invalid context configuration", err)
	}

	log := logging.NewLogger("smiol.context")

	parent := parentComm.Dup()
	rank := parent.Rank()
	isIOTask := rank%stride == 0

	ioTaskColor := 0
	if !isIOTask {
		ioTaskColor = 1
	}
	ioTask := parent.Split(ioTaskColor, rank)

	ioGroup := parent.Split(rank/stride, rank)
	if ioGroup == nil {
		parent.Free()
		return nil, newError(MPI_ERROR, "I/O-group Split produced no communicator")
	}

	ctx := &Context{
		cfg:        cfg,
		log:        log,
		parent:     parent,
		ioTask:     ioTask,
		ioGroup:    ioGroup,
		rank:       rank,
		isIOTask:   isIOTask,
		numIOTasks: numIOTasks,
		stride:     stride,
		valid:      true,
	}
	log.Debug("context initialized", "rank", rank, "is_io_task", isIOTask, "num_io_tasks", numIOTasks, "stride", stride)
	return ctx, nil
}

// InitFromHandle is the thin wrapper foreign-language callers come
// through: it converts a foreign-integer communicator handle (the form
// a Fortran caller holds) to the native communicator and delegates to
// Init.
func InitFromHandle(handle transport.Handle, numIOTasks, stride int, cfg *config.Config) (*Context, error) {
	comm := transport.FromHandle(handle)
	if comm == nil {
		return nil, newError(INVALID_ARGUMENT, "unknown communicator handle")
	}
	return Init(comm, numIOTasks, stride, cfg)
}

// Finalize frees the context's communicators and invalidates the
// handle. It is idempotent; it accepts a nil or already-invalidated
// Context.
func Finalize(ctx *Context) error {
	if ctx == nil || !ctx.valid {
		return nil
	}
	if ctx.ioGroup != nil {
		ctx.ioGroup.Free()
	}
	if ctx.ioTask != nil {
		ctx.ioTask.Free()
	}
	if ctx.parent != nil {
		ctx.parent.Free()
	}
	ctx.valid = false
	ctx.log.Debug("context finalized", "rank", ctx.rank)
	return nil
}

// IsIOTask reports whether this rank performs backend I/O on behalf
// of its I/O group.
func (ctx *Context) IsIOTask() bool { return ctx.isIOTask }

// Rank returns this rank's position in the duplicated parent communicator.
func (ctx *Context) Rank() int { return ctx.rank }

// latchBackendError records the backend's error identity every time a
// LIBRARY_ERROR surfaces through this context; the most recent failure
// wins, so LibErrorString always resolves the latest error. Backend
// failures are never retried.
func (ctx *Context) latchBackendError(kind string, errno int) {
	ctx.backendKind = kind
	ctx.backendErrno = errno
}

// libraryErrorFrom wraps a backend failure as a LIBRARY_ERROR,
// latching its (kind, errno) onto the context so a later
// LibErrorString call can resolve the same text on every rank of the
// group, not just the I/O rank that saw the failure.
func (ctx *Context) libraryErrorFrom(err error) *Error {
	errno := backend.RegisterErrno(err)
	ctx.latchBackendError(backend.MemBackendKind, errno)
	return libraryError(backend.MemBackendKind, errno, err.Error())
}

// LibErrorString resolves the backend's own message for the context's
// latched LIBRARY_ERROR.
func (ctx *Context) LibErrorString() string {
	if ctx.backendKind == "" {
		return "no backend error latched"
	}
	return backend.ErrnoString(ctx.backendErrno)
}
