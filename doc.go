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
Package smiol is a simple parallel I/O library: it moves distributed
multi-dimensional array slices between an application's compute ranks
and a smaller set of I/O ranks, maintains a persistent file abstraction
(dimensions, variables, attributes, record frames) over a backing
parallel file layer, and overlaps writes with subsequent computation by
offloading them onto a per-file background writer.

The usual shape of a program:

	comms := transport.NewWorld(nRanks)
	// on each rank's goroutine, with its own comm:
	ctx, _ := smiol.Init(comm, nIOTasks, stride, nil)
	f, _ := smiol.OpenFile(ctx, "out.nc", smiol.FileCreate)
	cells, _ := smiol.DefineDim(f, "nCells", 8)
	smiol.DefineVar(f, "x", smiol.REAL64, []smiol.DimID{cells})
	d, _ := smiol.CreateDecomp(ctx, len(mine), mine)
	smiol.PutVar(f, "x", d, buf)
	smiol.CloseFile(f)
	smiol.FreeDecomp(d)
	smiol.Finalize(ctx)

Every public call except SetFrame and GetFrame, which are purely local,
is collective: all ranks of the context call it, in
the same order, and the library keeps the ranks of an I/O group in
agreement by having the I/O rank act and broadcast the outcome. Writes
are asynchronous; SyncFile, CloseFile, and GetVar drain the background
writer and surface any failure it latched.
*/
package smiol
