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

package xfer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"smiol/internal/decomp"
	"smiol/internal/transport"
)

// elemPattern is the recognizable byte block for one element: the
// element index repeated over elementSize bytes' worth of uint32s.
func elemPattern(e int64, elementSize int) []byte {
	out := make([]byte, elementSize)
	for off := 0; off+4 <= elementSize; off += 4 {
		binary.LittleEndian.PutUint32(out[off:], uint32(e))
	}
	return out
}

func runRanks(t *testing.T, n int, fn func(rank int, comm transport.Comm) error) {
	t.Helper()
	comms := transport.NewWorld(n)
	var eg errgroup.Group
	for r := 0; r < n; r++ {
		r := r
		eg.Go(func() error {
			if err := fn(r, comms[r]); err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
}

// Round-robin element ownership forces the transfer to genuinely
// reorder: after COMP_TO_IO every I/O rank's slab must hold the
// elements of its contiguous global range, and IO_TO_COMP must be the
// exact inverse.
func TestFieldRoundTrip(t *testing.T) {
	const (
		n          = 4
		elems      = 10
		numIOTasks = 2
		stride     = 2
	)
	for _, elementSize := range []int{4, 8, 24} {
		t.Run(fmt.Sprintf("elementSize=%d", elementSize), func(t *testing.T) {
			runRanks(t, n, func(rank int, comm transport.Comm) error {
				var mine []int64
				for e := int64(0); e < elems; e++ {
					if int(e)%n == rank {
						mine = append(mine, e)
					}
				}
				d, err := decomp.Create(decomp.Params{
					Comm: comm, Stride: stride, NumIOTasks: numIOTasks,
				}, len(mine), mine)
				if err != nil {
					return err
				}

				src := make([]byte, 0, len(mine)*elementSize)
				for _, e := range mine {
					src = append(src, elemPattern(e, elementSize)...)
				}

				ioBuf := make([]byte, d.IOCount()*int64(elementSize))
				if err := Field(d, CompToIO, elementSize, src, ioBuf); err != nil {
					return err
				}
				for i := int64(0); i < d.IOCount(); i++ {
					e := d.IOStart() + i
					got := ioBuf[i*int64(elementSize) : (i+1)*int64(elementSize)]
					if !bytes.Equal(got, elemPattern(e, elementSize)) {
						return fmt.Errorf("slab position %d holds wrong element, want %d", i, e)
					}
				}

				back := make([]byte, len(mine)*elementSize)
				if err := Field(d, IOToComp, elementSize, ioBuf, back); err != nil {
					return err
				}
				if !bytes.Equal(back, src) {
					return fmt.Errorf("COMP_TO_IO then IO_TO_COMP is not the identity")
				}
				return nil
			})
		})
	}
}

func TestFieldRejectsBadArguments(t *testing.T) {
	if err := Field(nil, CompToIO, 4, nil, nil); err == nil {
		t.Error("expected an error for a nil decomposition")
	}
	runRanks(t, 1, func(rank int, comm transport.Comm) error {
		d, err := decomp.Create(decomp.Params{Comm: comm, Stride: 1, NumIOTasks: 1}, 2, []int64{0, 1})
		if err != nil {
			return err
		}
		if err := Field(d, CompToIO, 0, nil, nil); err == nil {
			return fmt.Errorf("expected an error for elementSize 0")
		}
		if err := Field(d, Direction(99), 4, nil, nil); err == nil {
			return fmt.Errorf("expected an error for an unknown direction")
		}
		if err := Field(d, CompToIO, 4, make([]byte, 4), make([]byte, 8)); err == nil {
			return fmt.Errorf("expected an error for a short source buffer")
		}
		return nil
	})
}
