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
	"smiol/internal/xfer"
)

// GetVar reads one variable. Reads are synchronous with respect to the
// writer: every descriptor enqueued on this file before the call has
// completed its backend write by the time the read is issued, and any
// error those writes latched is returned here instead of the data.
//
// For a decomposed variable each I/O rank reads its contiguous slab and
// the transfer engine redistributes elements back to the compute ranks
// (through the aggregation leaders, when the decomposition carries an
// aggregation plan). For a non-decomposed variable the I/O rank reads
// into buf and broadcasts it across the file's I/O group.
//
// GetVar is collective across the context.
func GetVar(f *File, varname string, d *Decomp, buf []byte) error {
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
	start, count, xsize, err := f.buildStartCount(v, d, false)
	if err != nil {
		return err
	}

	// Join the writer before touching the backend: every pending write
	// happens-before the read.
	if f.pipeline != nil {
		if err := f.pipeline.Drain(); err != nil {
			return wrapError(ASYNC_ERROR, "get_var: pending write failed", err)
		}
	}
	if err := f.ensureData(); err != nil {
		return err
	}

	if d == nil {
		n := totalBytes(v.elemSize, count)
		if len(buf) < n {
			return newError(INSUFFICIENT_ARG, "buffer smaller than the variable")
		}
		if err := f.actAndBroadcast(func() error {
			return f.be.GetVara(v.id, start, count, buf[:n])
		}); err != nil {
			return err
		}
		if err := f.ioGroup.Bcast(buf[:n], ioGroupRoot); err != nil {
			return wrapError(MPI_ERROR, "get_var broadcast failed", err)
		}
		return nil
	}

	ioBuf := make([]byte, int(d.IOCount())*xsize)
	if err := f.actAndBroadcast(func() error {
		return f.be.GetVara(v.id, start, count, ioBuf)
	}); err != nil {
		return err
	}

	agg := d.Agg
	dst := buf
	if agg != nil {
		// The transfer lands the sub-group's combined elements on the
		// aggregation leader; everyone else receives theirs in the
		// scatter below.
		dst = make([]byte, d.LocalCount()*xsize)
	} else if want := d.LocalCount() * xsize; len(buf) < want {
		return newError(INSUFFICIENT_ARG, "compute buffer smaller than this rank's element count")
	}

	if err := xfer.Field(d, xfer.IOToComp, xsize, ioBuf, dst); err != nil {
		return wrapError(MPI_ERROR, "I/O-to-compute transfer failed", err)
	}

	if agg != nil {
		want := agg.NCompute * xsize
		if len(buf) < want {
			return newError(INSUFFICIENT_ARG, "compute buffer smaller than this rank's element count")
		}
		var counts, displs []int
		if agg.AggComm.Rank() == 0 {
			counts = make([]int, len(agg.Counts))
			displs = make([]int, len(agg.Displs))
			for i := range agg.Counts {
				counts[i] = agg.Counts[i] * xsize
				displs[i] = agg.Displs[i] * xsize
			}
		}
		mine, err := agg.AggComm.Scatterv(dst, counts, displs, 0)
		if err != nil {
			return wrapError(MPI_ERROR, "aggregation scatter failed", err)
		}
		copy(buf[:want], mine)
	}
	return nil
}
