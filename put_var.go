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
	"smiol/internal/asyncio"
	"smiol/internal/backend"
	"smiol/internal/xfer"
)

// varLayout is one variable's resolved on-disk shape: its id, the byte
// size of one scalar element, and the size of each of its dimensions in
// definition order (backend.UnlimitedDim for the record dimension).
type varLayout struct {
	id       VarID
	elemSize int
	sizes    []int64
}

// resolveVar looks a variable up by name and resolves the size of each
// of its dimensions. Collective on the file's I/O group.
func (f *File) resolveVar(name string) (*varLayout, error) {
	id, elemSize, dims, err := InquireVar(f, name)
	if err != nil {
		return nil, err
	}
	sizes := make([]int64, len(dims))
	for i, dID := range dims {
		sz, err := f.dimSize(dID)
		if err != nil {
			return nil, err
		}
		sizes[i] = sz
	}
	return &varLayout{id: id, elemSize: elemSize, sizes: sizes}, nil
}

// buildStartCount computes the per-dimension (start, count) of this
// rank's contribution to a read or write of v, plus the byte size of
// one transferable element (the scalar size times the product of every
// dimension after the decomposed one).
//
// The rules, in order:
//   - every dimension starts at 0 with its full length as count;
//   - an unlimited (record) dimension is always axis 0 and becomes
//     (frame, 1);
//   - if the variable is decomposed, the slowest non-record dimension
//     becomes this rank's (io_start, io_count);
//   - a non-decomposed write contributes count = 0 on every axis unless
//     this is rank 0 -- exactly one rank's copy of the values reaches
//     the file.
func (f *File) buildStartCount(v *varLayout, d *Decomp, forWrite bool) (start, count []int64, xferElemSize int, err error) {
	ndims := len(v.sizes)
	start = make([]int64, ndims)
	count = make([]int64, ndims)
	hasRecord := ndims > 0 && v.sizes[0] == backend.UnlimitedDim
	for i := range v.sizes {
		count[i] = v.sizes[i]
	}
	if hasRecord {
		start[0] = f.frame
		count[0] = 1
	}

	xferElemSize = v.elemSize
	if d != nil {
		decompAxis := 0
		if hasRecord {
			decompAxis = 1
		}
		if decompAxis >= ndims {
			return nil, nil, 0, newError(INVALID_ARGUMENT, "decomposition supplied for a variable with no decomposable dimension")
		}
		start[decompAxis] = d.IOStart()
		count[decompAxis] = d.IOCount()
		for i := decompAxis + 1; i < ndims; i++ {
			xferElemSize *= int(v.sizes[i])
		}
	} else if forWrite && f.ctx.rank != 0 {
		for i := range count {
			count[i] = 0
		}
	}
	return start, count, xferElemSize, nil
}

// totalBytes is the byte length of the region (start, count) addresses.
func totalBytes(elemSize int, count []int64) int {
	n := int64(elemSize)
	for _, c := range count {
		n *= c
	}
	return int(n)
}

// PutVar writes one variable, asynchronously. For a decomposed variable
// (d != nil) each rank contributes its own elements, which are
// redistributed into contiguous I/O slabs -- through the aggregation
// leaders first, when the decomposition carries an aggregation plan --
// and queued on the I/O ranks' background writers. For a non-decomposed
// variable, rank 0's copy of buf is written.
//
// PutVar is collective across the context. It returns once the
// descriptor is enqueued; the backend write happens on the writer
// thread, and any failure it hits surfaces from the next SyncFile,
// CloseFile, or GetVar on this file.
func PutVar(f *File, varname string, d *Decomp, buf []byte) error {
	if f == nil || !f.valid {
		return newError(INVALID_ARGUMENT, "invalid file")
	}
	if varname == "" {
		return newError(INVALID_ARGUMENT, "empty variable name")
	}

	v, err := f.resolveVar(varname)
	if err != nil {
		return err
	}
	start, count, xsize, err := f.buildStartCount(v, d, true)
	if err != nil {
		return err
	}

	var out []byte
	if d != nil {
		src := buf
		if agg := d.Agg; agg != nil {
			want := agg.NCompute * xsize
			if len(buf) < want {
				return newError(INSUFFICIENT_ARG, "compute buffer smaller than this rank's element count")
			}
			gathered, _, _, err := agg.AggComm.Gatherv(buf[:want], 0)
			if err != nil {
				return wrapError(MPI_ERROR, "aggregation gather failed", err)
			}
			src = gathered // combined elements on the leader, nil elsewhere
		} else if want := d.LocalCount() * xsize; len(buf) < want {
			return newError(INSUFFICIENT_ARG, "compute buffer smaller than this rank's element count")
		}

		out = make([]byte, int(d.IOCount())*xsize)
		if err := xfer.Field(d, xfer.CompToIO, xsize, src, out); err != nil {
			return wrapError(MPI_ERROR, "compute-to-I/O transfer failed", err)
		}
	}

	if err := f.ensureData(); err != nil {
		return err
	}

	// Only I/O-task ranks enqueue; everyone else is done once the
	// transfer engine has run.
	if !f.ctx.IsIOTask() {
		return nil
	}

	var payload []byte
	if d != nil {
		payload = out
	} else if len(count) == 0 && f.ctx.rank != 0 {
		// A zero-dimensional variable has no axis to zero the count on;
		// ranks other than 0 enqueue an empty placeholder descriptor so
		// the writers' queues stay in lock-step while only rank 0's
		// value reaches the file.
		payload = nil
	} else {
		// The descriptor owns its buffer until the writer's wait-all
		// retires it, so a non-decomposed write gets a private copy the
		// caller is free to reuse immediately.
		n := totalBytes(v.elemSize, count)
		if len(buf) < n {
			return newError(INSUFFICIENT_ARG, "buffer smaller than the variable")
		}
		payload = append([]byte(nil), buf[:n]...)
	}

	f.pipeline.Enqueue(&asyncio.Descriptor{
		VarID:   v.id,
		Start:   start,
		Count:   count,
		Buf:     payload,
		BufSize: int64(len(payload)),
	})
	f.log.Debug("write queued", "var", varname, "bytes", len(payload), "frame", f.frame)
	return nil
}
