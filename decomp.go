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
	"smiol/internal/decomp"
)

// Decomp is an immutable plan mapping one element layout between
// compute ranks and I/O ranks; it is built once by CreateDecomp and
// handed to PutVar/GetVar for every variable that shares the layout.
type Decomp = decomp.Decomposition

// CreateDecomp builds a decomposition for nCompute elements whose
// global indices are computeElements. It is collective across the
// context: every rank must call it, each with its own element list.
// Whether the plan carries an intra-group aggregation stage is decided
// by the context's agg_factor tunable (0 or 1 disables it).
func CreateDecomp(ctx *Context, nCompute int, computeElements []int64) (*Decomp, error) {
	if ctx == nil || !ctx.valid {
		return nil, newError(INVALID_ARGUMENT, "nil or invalid context")
	}
	if nCompute < 0 || nCompute != len(computeElements) {
		return nil, newError(INVALID_ARGUMENT, "n_compute does not match the element list")
	}
	d, err := decomp.Create(decomp.Params{
		Comm:       ctx.parent,
		Stride:     ctx.stride,
		NumIOTasks: ctx.numIOTasks,
		AggFactor:  ctx.cfg.AggFactor,
	}, nCompute, computeElements)
	if err != nil {
		return nil, wrapError(MPI_ERROR, "create_decomp", err)
	}
	return d, nil
}

// FreeDecomp releases a decomposition's aggregation communicator and
// exchange tables. It accepts nil.
func FreeDecomp(d *Decomp) {
	decomp.Free(d)
}
