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
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"smiol/internal/backend"
	"smiol/internal/config"
	"smiol/internal/logging"
	"smiol/internal/transport"
)

// Pipeline is the owned synchronisation object for one file's
// asynchronous write path: the queue, the ticket lock, the writer
// goroutine's lifecycle, and the file flags (active, outstanding
// request count) the writer and the API thread both touch. Callers
// only ever see Enqueue and Drain/Shutdown.
//
// Pipeline is only meaningful on I/O-task ranks; a Pipeline
// constructed with a nil Comm behaves as a single-I/O-rank pipeline
// (no collective synchronisation), which is what a file opened with
// exactly one I/O task needs.
type Pipeline struct {
	comm transport.Comm // the file's I/O-task communicator
	be   backend.Backend
	cfg  *config.Config
	log  *logging.Logger

	q      queue
	ticket *ticketLock
	sem    *semaphore.Weighted

	wg sync.WaitGroup

	// reqIDs/pendingDescs are only ever touched by the single writer
	// goroutine that is active at any time; they need no lock of
	// their own.
	reqIDs       []int
	pendingDescs []*Descriptor

	mu      sync.Mutex // guards active and lastErr, read by Enqueue/Drain from the API thread
	active  bool
	lastErr error
}

// NewPipeline builds a Pipeline bound to one file's I/O-task
// communicator and backend handle. comm may be nil when the file has
// exactly one I/O rank and no peer to synchronize with.
func NewPipeline(comm transport.Comm, be backend.Backend, cfg *config.Config, log *logging.Logger) *Pipeline {
	return &Pipeline{
		comm:   comm,
		be:     be,
		cfg:    cfg,
		log:    log,
		ticket: newTicketLock(),
		sem:    semaphore.NewWeighted(int64(cfg.NReqs)),
	}
}

// Enqueue appends d to the file's queue and, if no writer is
// currently active, joins any previous (now-dead) writer and launches
// a fresh one -- the "launch lazily on first enqueue since active
// went false" rule from the write path.
func (p *Pipeline) Enqueue(d *Descriptor) {
	p.ticket.Lock()
	p.q.add(d)
	p.mu.Lock()
	wasActive := p.active
	p.active = true
	p.mu.Unlock()
	p.ticket.Unlock()

	if !wasActive {
		p.wg.Wait() // join any previous writer; it has already exited by now
		p.wg.Add(1)
		go p.run()
	}
}

// Drain blocks until the writer has retired every descriptor enqueued
// before this call, establishing the happens-before relation
// sync_file/close_file/get_var require, then returns (and clears) any
// latched async error.
func (p *Pipeline) Drain() error {
	p.wg.Wait()
	p.mu.Lock()
	err := p.lastErr
	p.lastErr = nil
	p.mu.Unlock()
	return err
}

// Shutdown drains the pipeline. It exists as a distinct name from
// Drain so call sites read as "close_file shuts the pipeline down"
// rather than "close_file happens to drain it", even though the
// implementation is currently identical: once every descriptor is
// retired there is nothing left running to additionally tear down.
func (p *Pipeline) Shutdown() error {
	return p.Drain()
}

func (p *Pipeline) latch(err error) {
	p.mu.Lock()
	if p.lastErr == nil {
		p.lastErr = err
	}
	p.mu.Unlock()
}

func (p *Pipeline) numIOTasks() int64 {
	if p.comm == nil {
		return 1
	}
	return int64(p.comm.Size())
}

func (p *Pipeline) allreduce(val int64, op transport.Op) (int64, error) {
	if p.comm == nil {
		return val, nil
	}
	return p.comm.Allreduce(val, op)
}

// run is the writer thread's main loop: ticket lock, unanimous
// queue-emptiness all-reduce, pop-or-exit, release, post-or-flush.
func (p *Pipeline) run() {
	defer p.wg.Done()
	pinWriterThread(p.log)

	n := p.numIOTasks()
	for {
		p.ticket.Lock()
		emptyVote := int64(0)
		if p.q.empty() {
			emptyVote = 1
		}
		sum, err := p.allreduce(emptyVote, transport.OpSum)
		if err != nil {
			p.latch(fmt.Errorf("asyncio: queue-emptiness Allreduce: %w", err))
			p.setInactive()
			p.ticket.Unlock()
			return
		}
		if sum != 0 && sum != n {
			// Peer writers disagree about queue state this round; no
			// collective backend call may be issued yet.
			p.ticket.Unlock()
			continue
		}

		d := p.q.remove()
		if d == nil {
			// Every queue is empty this round. Exit only when no peer still
			// holds outstanding requests: a rank that posted a real write
			// while its peers popped placeholders must flush it, and its
			// writer needs the others in the next round's all-reduce.
			pending, err := p.allreduce(int64(len(p.reqIDs)), transport.OpMax)
			if err != nil {
				p.latch(fmt.Errorf("asyncio: outstanding-request Allreduce: %w", err))
				p.setInactive()
				p.ticket.Unlock()
				return
			}
			if pending == 0 {
				// Clear active before releasing the ticket lock: an Enqueue
				// serialized behind this writer must observe active == false,
				// or its descriptor would be stranded with no writer running.
				p.setInactive()
				p.ticket.Unlock()
				return
			}
		}
		p.ticket.Unlock()

		if d != nil {
			if err := p.postWrite(d); err != nil {
				p.latch(err)
			}
		} else if len(p.reqIDs) > 0 {
			if err := p.flush(); err != nil {
				p.latch(err)
			}
		}
	}
}

func (p *Pipeline) setInactive() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

// postWrite checks the collective buffer high-water mark, flushes if it
// (or the request table) is full, then posts the buffered non-blocking
// write.
//
// A zero-byte descriptor is a rank's placeholder for a write it does
// not contribute to (a non-decomposed variable on a rank other than 0):
// it keeps this rank's queue in lock-step with its peers -- every rank
// pops one descriptor per round and joins the same collectives -- but
// posts nothing to the backend.
func (p *Pipeline) postWrite(d *Descriptor) error {
	usage, err := p.be.InqBufferUsage()
	if err != nil {
		return fmt.Errorf("asyncio: InqBufferUsage: %w", err)
	}
	projected := usage + d.BufSize
	maxProjected, err := p.allreduce(projected, transport.OpMax)
	if err != nil {
		return fmt.Errorf("asyncio: buffer-usage Allreduce: %w", err)
	}

	if len(d.Buf) == 0 {
		if maxProjected > p.cfg.BufSize {
			return p.flush()
		}
		return nil
	}

	acquired := p.sem.TryAcquire(1)
	if maxProjected > p.cfg.BufSize || !acquired {
		if err := p.flush(); err != nil {
			if acquired {
				p.sem.Release(1)
			}
			return err
		}
		if !acquired {
			if !p.sem.TryAcquire(1) {
				return fmt.Errorf("asyncio: request table still full immediately after wait_all")
			}
			acquired = true
		}
	}

	reqID, err := p.be.BputVara(d.VarID, d.Start, d.Count, d.Buf)
	if err != nil {
		p.sem.Release(1)
		d.Err = err
		return fmt.Errorf("asyncio: BputVara: %w", err)
	}
	p.reqIDs = append(p.reqIDs, reqID)
	p.pendingDescs = append(p.pendingDescs, d)
	return nil
}

// flush issues a collective wait_all over the current request table
// and zeroes the outstanding count. Buffers owned by the descriptors
// that were waited on are released here -- after WaitAll retires the
// backend request, never before.
func (p *Pipeline) flush() error {
	if len(p.reqIDs) == 0 {
		return nil
	}
	ids := p.reqIDs
	descs := p.pendingDescs
	p.reqIDs = nil
	p.pendingDescs = nil

	err := p.be.WaitAll(ids)
	p.sem.Release(int64(len(ids)))
	if err != nil {
		for _, d := range descs {
			d.Err = err
		}
		return fmt.Errorf("asyncio: WaitAll: %w", err)
	}
	return nil
}
