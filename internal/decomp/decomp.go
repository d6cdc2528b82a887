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
Package decomp builds and holds the immutable mapping between a set of
compute ranks' arbitrarily-ordered elements and a set of I/O ranks'
contiguous slabs of the same global element list.

A Decomposition is built once, collectively, by Create, and is then
handed to internal/xfer on every put_var/get_var to drive the actual
byte redistribution. Internally it keeps the one piece of state the
redistribution needs that a real MPI exchange-table would also need:
a record, materialized on the root rank only, of which rank owns each
global element index in the all-to-all. That record is built once at
Create time and reused by every subsequent transfer: an opaque exchange
table, built once, driving every later transfer.
*/
package decomp

import (
	"encoding/binary"
	"fmt"
	"sort"

	"smiol/internal/transport"
)

// AggPlan describes intra-group aggregation: before the compute-to-I/O
// transfer, every rank in an AggComm sub-group gathers its elements to
// the sub-group leader (rank 0 of AggComm), which alone then
// participates in the real compute<->I/O exchange on its combined set.
type AggPlan struct {
	AggComm     transport.Comm
	NCompute    int
	NComputeAgg int // non-zero only on the leader
	Counts      []int
	Displs      []int
}

// Decomposition is an immutable plan mapping one element layout between
// compute ranks and I/O ranks. See the package doc for what it holds
// and why.
type Decomposition struct {
	comm   transport.Comm
	rank   int
	size   int
	stride int

	globalCount int64
	ioStart     int64
	ioCount     int64

	numIOTasks int

	// localIndices are the global element indices this rank contributes
	// to the next compute->I/O transfer (or receives on the next I/O->
	// compute transfer): this rank's own elements, or -- when
	// aggregation is enabled -- the aggregation leader's combined
	// sub-group elements. Non-leader aggregation members contribute
	// nothing and hold an empty slice.
	localIndices []int64

	// Root-only bookkeeping: the flat, rank-ordered concatenation of
	// every contributing rank's localIndices (the result of the
	// one-time Gatherv performed in Create), plus the per-rank
	// counts/displacements describing that concatenation. isRoot is
	// true exactly on rank 0 of comm.
	isRoot      bool
	globalOrder []int64
	order       []int // counts
	orderDispl  []int

	Agg *AggPlan
}

// Params configures decomposition construction; they mirror the
// Context fields a smiol.Context would otherwise pass down.
type Params struct {
	Comm       transport.Comm // the context's duplicated parent communicator
	Stride     int            // I/O rank stride
	NumIOTasks int
	AggFactor  int // 0 disables aggregation
}

// Create builds a Decomposition. It is collective: every rank in
// p.Comm must call Create with the same p.Stride/p.NumIOTasks/
// p.AggFactor and its own nCompute/elements.
func Create(p Params, nCompute int, elements []int64) (*Decomposition, error) {
	if p.Comm == nil {
		return nil, fmt.Errorf("decomp: nil communicator")
	}
	if nCompute < 0 || nCompute != len(elements) {
		return nil, fmt.Errorf("decomp: nCompute does not match len(elements)")
	}
	if p.Stride <= 0 || p.NumIOTasks <= 0 {
		return nil, fmt.Errorf("decomp: invalid stride/numIOTasks")
	}

	rank, size := p.Comm.Rank(), p.Comm.Size()

	globalCount, err := p.Comm.Allreduce(int64(nCompute), transport.OpSum)
	if err != nil {
		return nil, fmt.Errorf("decomp: Allreduce(n_compute): %w", err)
	}

	d := &Decomposition{
		comm:        p.Comm,
		rank:        rank,
		size:        size,
		stride:      p.Stride,
		globalCount: globalCount,
		numIOTasks:  p.NumIOTasks,
		isRoot:      rank == 0,
	}
	d.ioStart, d.ioCount = ioRange(rank, p.Stride, p.NumIOTasks, globalCount)

	ownIndices := append([]int64(nil), elements...)

	if p.AggFactor >= 2 {
		agg, leaderIndices, err := buildAggregation(p.Comm, p.AggFactor, ownIndices)
		if err != nil {
			return nil, err
		}
		d.Agg = agg
		d.localIndices = leaderIndices
	} else {
		d.localIndices = ownIndices
	}

	if err := d.buildExchangeTable(); err != nil {
		return nil, err
	}
	return d, nil
}

// Free releases the aggregation sub-communicator, if any. It accepts a
// nil Decomposition.
func Free(d *Decomposition) {
	if d == nil {
		return
	}
	if d.Agg != nil && d.Agg.AggComm != nil {
		d.Agg.AggComm.Free()
	}
}

// ioRange computes the contiguous block of the global element list
// owned by the I/O rank at position rank/stride, partitioning
// [0,globalCount) into numIOTasks nearly-equal contiguous blocks.
// Non-I/O ranks (rank % stride != 0) get count 0.
func ioRange(rank, stride, numIOTasks int, globalCount int64) (start, count int64) {
	if rank%stride != 0 {
		return 0, 0
	}
	idx := int64(rank / stride)
	if idx >= int64(numIOTasks) {
		return 0, 0
	}
	n := int64(numIOTasks)
	base := globalCount / n
	rem := globalCount % n
	if idx < rem {
		start = idx*(base+1)
		count = base + 1
	} else {
		start = idx*base + rem
		count = base
	}
	return start, count
}

// buildAggregation splits the parent communicator by rank/aggFactor
// and gathers every sub-group member's elements to the sub-group
// leader (rank 0 of the new sub-communicator).
func buildAggregation(parent transport.Comm, aggFactor int, elements []int64) (*AggPlan, []int64, error) {
	color := parent.Rank() / aggFactor
	aggComm := parent.Split(color, parent.Rank())
	if aggComm == nil {
		return nil, nil, fmt.Errorf("decomp: aggregation Split produced no communicator")
	}

	payload := encodeInt64s(elements)
	data, byteCounts, byteDispls, err := aggComm.Gatherv(payload, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("decomp: aggregation Gatherv: %w", err)
	}

	plan := &AggPlan{AggComm: aggComm, NCompute: len(elements)}
	if aggComm.Rank() != 0 {
		return plan, nil, nil
	}

	plan.Counts = make([]int, len(byteCounts))
	plan.Displs = make([]int, len(byteDispls))
	total := 0
	for i, bc := range byteCounts {
		plan.Counts[i] = bc / 8
		plan.Displs[i] = byteDispls[i] / 8
		total += plan.Counts[i]
	}
	plan.NComputeAgg = total
	return plan, decodeInt64s(data), nil
}

// buildExchangeTable performs the one-time Gatherv of every
// contributing rank's localIndices to d.comm's rank 0, materializing
// the flat rank-ordered concatenation that internal/xfer replays on
// every subsequent transfer_field call.
func (d *Decomposition) buildExchangeTable() error {
	payload := encodeInt64s(d.localIndices)
	data, byteCounts, byteDispls, err := d.comm.Gatherv(payload, 0)
	if err != nil {
		return fmt.Errorf("decomp: exchange-table Gatherv: %w", err)
	}
	if !d.isRoot {
		return nil
	}
	d.globalOrder = decodeInt64s(data)
	d.order = make([]int, len(byteCounts))
	d.orderDispl = make([]int, len(byteDispls))
	for i := range byteCounts {
		d.order[i] = byteCounts[i] / 8
		d.orderDispl[i] = byteDispls[i] / 8
	}
	if err := d.validateOrder(); err != nil {
		return err
	}
	return nil
}

func (d *Decomposition) validateOrder() error {
	seen := make(map[int64]bool, len(d.globalOrder))
	for _, idx := range d.globalOrder {
		if idx < 0 || idx >= d.globalCount {
			return fmt.Errorf("decomp: element index %d out of range [0,%d)", idx, d.globalCount)
		}
		if seen[idx] {
			return fmt.Errorf("decomp: element index %d claimed by more than one rank", idx)
		}
		seen[idx] = true
	}
	return nil
}

func encodeInt64s(vals []int64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func decodeInt64s(b []byte) []int64 {
	out := make([]int64, len(b)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}

// --- accessors used by internal/xfer; kept narrow and read-only. ---

func (d *Decomposition) Comm() transport.Comm  { return d.comm }
func (d *Decomposition) Rank() int             { return d.rank }
func (d *Decomposition) Size() int             { return d.size }
func (d *Decomposition) IsRoot() bool          { return d.isRoot }
func (d *Decomposition) GlobalCount() int64    { return d.globalCount }
func (d *Decomposition) IOStart() int64        { return d.ioStart }
func (d *Decomposition) IOCount() int64        { return d.ioCount }
func (d *Decomposition) NumIOTasks() int       { return d.numIOTasks }
func (d *Decomposition) Stride() int           { return d.stride }
func (d *Decomposition) LocalCount() int       { return len(d.localIndices) }
func (d *Decomposition) LocalIndices() []int64 { return d.localIndices }

// IORangeFor returns the contiguous (start,count) owned by rank within
// the global element list, the same deterministic computation every
// rank performed locally for itself at Create time. The root rank uses
// it during a transfer to address every I/O rank's slab without a
// further collective gather.
func (d *Decomposition) IORangeFor(rank int) (start, count int64) {
	return ioRange(rank, d.stride, d.numIOTasks, d.globalCount)
}

// GlobalOrder, Counts and Displs are only meaningful on the root rank
// (see IsRoot); they describe, in rank order, which global element
// index occupies each flat position of a gathered compute-side buffer.
func (d *Decomposition) GlobalOrder() []int64 { return d.globalOrder }
func (d *Decomposition) Counts() []int        { return d.order }
func (d *Decomposition) Displs() []int        { return d.orderDispl }

// sortedCopy is a small helper kept for tests that want to assert
// GlobalOrder covers [0,globalCount) exactly once regardless of rank
// gather order.
func sortedCopy(vals []int64) []int64 {
	out := append([]int64(nil), vals...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
