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

package asyncio

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"smiol/internal/backend"
	"smiol/internal/config"
	"smiol/internal/logging"
	"smiol/internal/transport"
)

func TestQueueFIFO(t *testing.T) {
	var q queue
	if !q.empty() {
		t.Fatal("new queue should be empty")
	}
	if q.remove() != nil {
		t.Fatal("remove on an empty queue should return nil")
	}
	a, b, c := &Descriptor{BufSize: 1}, &Descriptor{BufSize: 2}, &Descriptor{BufSize: 3}
	q.add(a)
	q.add(b)
	q.add(c)
	if q.empty() {
		t.Fatal("queue with entries should not be empty")
	}
	for i, want := range []*Descriptor{a, b, c} {
		if got := q.remove(); got != want {
			t.Fatalf("remove %d returned descriptor %v, want %v", i, got, want)
		}
	}
	if !q.empty() {
		t.Fatal("queue should be empty after removing everything")
	}
}

func TestTicketLockMutualExclusion(t *testing.T) {
	tl := newTicketLock()
	const workers, iters = 8, 500
	counter := 0
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				tl.Lock()
				counter++
				tl.Unlock()
			}
		}()
	}
	wg.Wait()
	if counter != workers*iters {
		t.Errorf("counter = %d, want %d", counter, workers*iters)
	}
}

// newTestBackend sets up an attached, data-mode backend with one
// variable of nElems REAL64-sized elements.
func newTestBackend(t *testing.T, path string, nElems int64, bufSize int64) (backend.Backend, backend.VarID) {
	t.Helper()
	be := backend.NewMemBackend()
	if err := be.Create(path); err != nil {
		t.Fatal(err)
	}
	dim, err := be.DefDim("n", nElems)
	if err != nil {
		t.Fatal(err)
	}
	varID, err := be.DefVar("x", 8, []backend.DimID{dim})
	if err != nil {
		t.Fatal(err)
	}
	if err := be.Enddef(); err != nil {
		t.Fatal(err)
	}
	if err := be.AttachBuffer(bufSize); err != nil {
		t.Fatal(err)
	}
	return be, varID
}

func TestPipelineDrainsInOrder(t *testing.T) {
	be, varID := newTestBackend(t, "pipeline_order.nc", 8, 1<<20)
	cfg := config.DefaultConfig()
	p := NewPipeline(nil, be, cfg, logging.NewLogger("test"))

	for i := int64(0); i < 2; i++ {
		buf := bytes.Repeat([]byte{byte(i + 1)}, 4*8)
		p.Enqueue(&Descriptor{
			VarID:   varID,
			Start:   []int64{i * 4},
			Count:   []int64{4},
			Buf:     buf,
			BufSize: int64(len(buf)),
		})
	}
	if err := p.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	got := make([]byte, 8*8)
	if err := be.GetVara(varID, []int64{0}, []int64{8}, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:32], bytes.Repeat([]byte{1}, 32)) || !bytes.Equal(got[32:], bytes.Repeat([]byte{2}, 32)) {
		t.Error("drained writes did not land in their slabs")
	}

	usage, err := be.InqBufferUsage()
	if err != nil {
		t.Fatal(err)
	}
	if usage != 0 {
		t.Errorf("buffer usage after Drain = %d, want 0", usage)
	}
}

// A relaunch after the writer has gone idle must work: the second
// Enqueue joins the dead writer and starts a fresh one.
func TestPipelineRelaunch(t *testing.T) {
	be, varID := newTestBackend(t, "pipeline_relaunch.nc", 8, 1<<20)
	p := NewPipeline(nil, be, config.DefaultConfig(), logging.NewLogger("test"))

	for round := int64(0); round < 3; round++ {
		buf := bytes.Repeat([]byte{byte(round + 1)}, 8)
		p.Enqueue(&Descriptor{
			VarID: varID, Start: []int64{round}, Count: []int64{1},
			Buf: buf, BufSize: 8,
		})
		if err := p.Drain(); err != nil {
			t.Fatalf("round %d Drain: %v", round, err)
		}
	}
	got := make([]byte, 3*8)
	if err := be.GetVara(varID, []int64{0}, []int64{3}, got); err != nil {
		t.Fatal(err)
	}
	for round := 0; round < 3; round++ {
		if got[round*8] != byte(round+1) {
			t.Errorf("round %d write missing from storage", round)
		}
	}
}

// Exceeding the attached-buffer budget forces intermediate wait-alls;
// every write still lands and the buffer is fully drained afterwards.
func TestPipelineBackPressure(t *testing.T) {
	const nDescs = 10
	be, varID := newTestBackend(t, "pipeline_pressure.nc", nDescs*128, 2048)
	cfg := config.DefaultConfig()
	cfg.BufSize = 2048
	p := NewPipeline(nil, be, cfg, logging.NewLogger("test"))

	for i := int64(0); i < nDescs; i++ {
		buf := bytes.Repeat([]byte{byte(i + 1)}, 128*8) // 1 KiB per descriptor
		p.Enqueue(&Descriptor{
			VarID: varID, Start: []int64{i * 128}, Count: []int64{128},
			Buf: buf, BufSize: int64(len(buf)),
		})
	}
	if err := p.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	got := make([]byte, nDescs*128*8)
	if err := be.GetVara(varID, []int64{0}, []int64{nDescs * 128}, got); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < nDescs; i++ {
		if got[i*128*8] != byte(i+1) {
			t.Errorf("descriptor %d missing from storage", i)
		}
	}
	usage, err := be.InqBufferUsage()
	if err != nil {
		t.Fatal(err)
	}
	if usage != 0 {
		t.Errorf("buffer usage after Drain = %d, want 0", usage)
	}
}

// A backend failure inside the writer latches onto the pipeline and
// surfaces from the next Drain, once.
func TestPipelineLatchesWriterErrors(t *testing.T) {
	be, _ := newTestBackend(t, "pipeline_err.nc", 8, 1<<20)
	p := NewPipeline(nil, be, config.DefaultConfig(), logging.NewLogger("test"))

	p.Enqueue(&Descriptor{
		VarID: backend.VarID(99), Start: []int64{0}, Count: []int64{1},
		Buf: make([]byte, 8), BufSize: 8,
	})
	if err := p.Drain(); err == nil {
		t.Fatal("expected the bad variable id to surface from Drain")
	}
	if err := p.Drain(); err != nil {
		t.Fatalf("second Drain should return nil after the latch is cleared, got %v", err)
	}
}

// Two I/O ranks with independent queues stay in lock-step through the
// queue-emptiness all-reduce: both drain fully, no deadlock.
func TestPipelineCollectiveLockStep(t *testing.T) {
	const n = 2
	comms := transport.NewWorld(n)
	backends := make([]backend.Backend, n)
	varIDs := make([]backend.VarID, n)
	pipelines := make([]*Pipeline, n)

	var eg errgroup.Group
	for r := 0; r < n; r++ {
		r := r
		eg.Go(func() error {
			be := backend.NewMemBackend()
			if err := be.Create("pipeline_collective.nc"); err != nil {
				return err
			}
			dim, err := be.DefDim("n", 64)
			if err != nil {
				return err
			}
			varID, err := be.DefVar("x", 8, []backend.DimID{dim})
			if err != nil {
				return err
			}
			if err := be.Enddef(); err != nil {
				return err
			}
			if err := be.AttachBuffer(1 << 20); err != nil {
				return err
			}
			backends[r], varIDs[r] = be, varID
			pipelines[r] = NewPipeline(comms[r], be, config.DefaultConfig(), logging.NewLogger("test"))

			for i := int64(0); i < 4; i++ {
				slab := int64(r)*32 + i*8
				buf := bytes.Repeat([]byte{byte(r*10 + int(i) + 1)}, 8*8)
				pipelines[r].Enqueue(&Descriptor{
					VarID: varID, Start: []int64{slab}, Count: []int64{8},
					Buf: buf, BufSize: int64(len(buf)),
				})
			}
			return pipelines[r].Drain()
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("collective pipelines failed: %v", err)
	}

	got := make([]byte, 64*8)
	if err := backends[0].GetVara(varIDs[0], []int64{0}, []int64{64}, got); err != nil {
		t.Fatal(err)
	}
	for r := 0; r < n; r++ {
		for i := 0; i < 4; i++ {
			off := (r*32 + i*8) * 8
			if got[off] != byte(r*10+i+1) {
				t.Errorf("rank %d descriptor %d missing from shared storage", r, i)
			}
		}
	}
}

func TestPipelineCollectiveLockStepUnbalancedTiming(t *testing.T) {
	// Same as above but rank 1 enqueues strictly after rank 0 has
	// already launched its writer; the writers must spin on the
	// disagreement round rather than deadlock or exit early.
	const n = 2
	comms := transport.NewWorld(n)
	var ready sync.WaitGroup
	ready.Add(1)

	var eg errgroup.Group
	for r := 0; r < n; r++ {
		r := r
		eg.Go(func() error {
			be := backend.NewMemBackend()
			if err := be.Create(fmt.Sprintf("pipeline_stagger_%d.nc", r)); err != nil {
				return err
			}
			dim, err := be.DefDim("n", 8)
			if err != nil {
				return err
			}
			varID, err := be.DefVar("x", 8, []backend.DimID{dim})
			if err != nil {
				return err
			}
			if err := be.Enddef(); err != nil {
				return err
			}
			if err := be.AttachBuffer(1 << 20); err != nil {
				return err
			}
			p := NewPipeline(comms[r], be, config.DefaultConfig(), logging.NewLogger("test"))

			d := &Descriptor{
				VarID: varID, Start: []int64{0}, Count: []int64{8},
				Buf: make([]byte, 64), BufSize: 64,
			}
			if r == 0 {
				p.Enqueue(d)
				ready.Done()
			} else {
				ready.Wait()
				p.Enqueue(d)
			}
			return p.Drain()
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("staggered pipelines failed: %v", err)
	}
}
