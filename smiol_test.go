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

package smiol_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"

	"smiol"
	"smiol/internal/backend"
	"smiol/internal/config"
	"smiol/internal/transport"
)

// runWorld drives n simulated ranks through fn concurrently, one
// goroutine per rank, and fails the test on the first rank error.
func runWorld(t *testing.T, n int, fn func(rank int, comm transport.Comm) error) {
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

func f64Bytes(vals ...float64) []byte {
	out := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return out
}

func f64Vals(buf []byte) []float64 {
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}

func i32Bytes(v int32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(v))
	return out
}

// Single write through a single I/O rank: 4 ranks, stride 4, each rank
// holding 2 elements whose values are their global index; the file
// read back after close holds 0..7 in order.
func TestSingleWriteSingleIORank(t *testing.T) {
	const path = "single_write.nc"
	runWorld(t, 4, func(rank int, comm transport.Comm) error {
		ctx, err := smiol.Init(comm, 1, 4, nil)
		if err != nil {
			return err
		}
		defer smiol.Finalize(ctx)

		f, err := smiol.OpenFile(ctx, path, smiol.FileCreate)
		if err != nil {
			return err
		}
		cells, err := smiol.DefineDim(f, "nCells", 8)
		if err != nil {
			return err
		}
		if _, err := smiol.DefineVar(f, "x", smiol.REAL64, []smiol.DimID{cells}); err != nil {
			return err
		}

		mine := []int64{int64(2 * rank), int64(2*rank + 1)}
		d, err := smiol.CreateDecomp(ctx, 2, mine)
		if err != nil {
			return err
		}
		defer smiol.FreeDecomp(d)

		if err := smiol.PutVar(f, "x", d, f64Bytes(float64(mine[0]), float64(mine[1]))); err != nil {
			return err
		}
		if err := smiol.CloseFile(f); err != nil {
			return err
		}

		f2, err := smiol.OpenFile(ctx, path, smiol.FileRead)
		if err != nil {
			return err
		}
		rbuf := make([]byte, 16)
		if err := smiol.GetVar(f2, "x", d, rbuf); err != nil {
			return err
		}
		got := f64Vals(rbuf)
		for i, e := range mine {
			if got[i] != float64(e) {
				return fmt.Errorf("element %d = %v, want %v", e, got[i], float64(e))
			}
		}
		return smiol.CloseFile(f2)
	})

	snap, err := backend.Snapshot(path)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	got := f64Vals(snap.Vars[0].Data)
	for i := 0; i < 8; i++ {
		if got[i] != float64(i) {
			t.Errorf("file element %d = %v, want %v", i, got[i], float64(i))
		}
	}
}

// Record dimension: writes at frame k leave other frames untouched and
// each frame reads back what was written to it.
func TestRecordFrames(t *testing.T) {
	const path = "frames.nc"
	runWorld(t, 2, func(rank int, comm transport.Comm) error {
		ctx, err := smiol.Init(comm, 2, 1, nil)
		if err != nil {
			return err
		}
		defer smiol.Finalize(ctx)

		f, err := smiol.OpenFile(ctx, path, smiol.FileCreate)
		if err != nil {
			return err
		}
		timeDim, err := smiol.DefineDim(f, "time", smiol.UnlimitedDim)
		if err != nil {
			return err
		}
		nDim, err := smiol.DefineDim(f, "n", 4)
		if err != nil {
			return err
		}
		if _, err := smiol.DefineVar(f, "v", smiol.REAL64, []smiol.DimID{timeDim, nDim}); err != nil {
			return err
		}

		mine := []int64{int64(2 * rank), int64(2*rank + 1)}
		d, err := smiol.CreateDecomp(ctx, 2, mine)
		if err != nil {
			return err
		}
		defer smiol.FreeDecomp(d)

		if err := smiol.PutVar(f, "v", d, f64Bytes(float64(mine[0]), float64(mine[1]))); err != nil {
			return err
		}
		if err := smiol.SetFrame(f, 1); err != nil {
			return err
		}
		if err := smiol.PutVar(f, "v", d, f64Bytes(float64(mine[0])+10, float64(mine[1])+10)); err != nil {
			return err
		}
		if err := smiol.SyncFile(f); err != nil {
			return err
		}

		for frame, offset := range map[int64]float64{0: 0, 1: 10} {
			if err := smiol.SetFrame(f, frame); err != nil {
				return err
			}
			rbuf := make([]byte, 16)
			if err := smiol.GetVar(f, "v", d, rbuf); err != nil {
				return err
			}
			got := f64Vals(rbuf)
			for i, e := range mine {
				if got[i] != float64(e)+offset {
					return fmt.Errorf("frame %d element %d = %v, want %v", frame, e, got[i], float64(e)+offset)
				}
			}
		}
		return smiol.CloseFile(f)
	})
}

// Non-decomposed scalar: every rank offers its own value, the file
// keeps rank 0's, and a read broadcasts it back to every rank.
func TestNonDecomposedScalar(t *testing.T) {
	const path = "scalar.nc"
	runWorld(t, 8, func(rank int, comm transport.Comm) error {
		ctx, err := smiol.Init(comm, 4, 2, nil)
		if err != nil {
			return err
		}
		defer smiol.Finalize(ctx)

		f, err := smiol.OpenFile(ctx, path, smiol.FileCreate)
		if err != nil {
			return err
		}
		if _, err := smiol.DefineVar(f, "y", smiol.INT32, nil); err != nil {
			return err
		}
		if err := smiol.PutVar(f, "y", nil, i32Bytes(int32(100+rank))); err != nil {
			return err
		}
		if err := smiol.SyncFile(f); err != nil {
			return err
		}

		rbuf := make([]byte, 4)
		if err := smiol.GetVar(f, "y", nil, rbuf); err != nil {
			return err
		}
		if got := int32(binary.LittleEndian.Uint32(rbuf)); got != 100 {
			return fmt.Errorf("scalar read = %d, want rank 0's value 100", got)
		}
		return smiol.CloseFile(f)
	})
}

// Back-pressure: with a 64 KiB attached buffer, 300 one-KiB record
// writes force repeated internal wait-alls; every value still round-trips.
func TestBackPressureManySmallWrites(t *testing.T) {
	const (
		path    = "backpressure.nc"
		frames  = 300
		perRank = 64 // 64 REAL64 elements = 512 B per rank per frame
	)
	runWorld(t, 2, func(rank int, comm transport.Comm) error {
		cfg := config.DefaultConfig()
		cfg.BufSize = 64 * 1024
		ctx, err := smiol.Init(comm, 2, 1, cfg)
		if err != nil {
			return err
		}
		defer smiol.Finalize(ctx)

		f, err := smiol.OpenFile(ctx, path, smiol.FileCreate)
		if err != nil {
			return err
		}
		timeDim, err := smiol.DefineDim(f, "time", smiol.UnlimitedDim)
		if err != nil {
			return err
		}
		kDim, err := smiol.DefineDim(f, "k", 2*perRank)
		if err != nil {
			return err
		}
		if _, err := smiol.DefineVar(f, "w", smiol.REAL64, []smiol.DimID{timeDim, kDim}); err != nil {
			return err
		}

		mine := make([]int64, perRank)
		for i := range mine {
			mine[i] = int64(rank*perRank + i)
		}
		d, err := smiol.CreateDecomp(ctx, perRank, mine)
		if err != nil {
			return err
		}
		defer smiol.FreeDecomp(d)

		for frame := 0; frame < frames; frame++ {
			if err := smiol.SetFrame(f, int64(frame)); err != nil {
				return err
			}
			vals := make([]float64, perRank)
			for i, e := range mine {
				vals[i] = float64(frame*1000) + float64(e)
			}
			if err := smiol.PutVar(f, "w", d, f64Bytes(vals...)); err != nil {
				return err
			}
		}
		if err := smiol.SyncFile(f); err != nil {
			return err
		}

		for _, frame := range []int64{0, frames / 2, frames - 1} {
			if err := smiol.SetFrame(f, frame); err != nil {
				return err
			}
			rbuf := make([]byte, perRank*8)
			if err := smiol.GetVar(f, "w", d, rbuf); err != nil {
				return err
			}
			got := f64Vals(rbuf)
			for i, e := range mine {
				want := float64(frame*1000) + float64(e)
				if got[i] != want {
					return fmt.Errorf("frame %d element %d = %v, want %v", frame, e, got[i], want)
				}
			}
		}
		return smiol.CloseFile(f)
	})
}

// Define/data oscillation: metadata writes interleaved with data
// writes drive DEFINE -> DATA -> DEFINE -> DATA, and both the
// attribute and the second write survive.
func TestDefineDataOscillation(t *testing.T) {
	const path = "oscillation.nc"
	runWorld(t, 2, func(rank int, comm transport.Comm) error {
		ctx, err := smiol.Init(comm, 1, 2, nil)
		if err != nil {
			return err
		}
		defer smiol.Finalize(ctx)

		f, err := smiol.OpenFile(ctx, path, smiol.FileCreate)
		if err != nil {
			return err
		}
		nDim, err := smiol.DefineDim(f, "n", 4)
		if err != nil {
			return err
		}
		varID, err := smiol.DefineVar(f, "x", smiol.REAL64, []smiol.DimID{nDim})
		if err != nil {
			return err
		}

		if err := smiol.PutVar(f, "x", nil, f64Bytes(1, 2, 3, 4)); err != nil {
			return err
		}
		// Metadata write while in DATA mode forces a redef.
		if err := smiol.DefineAtt(f, varID, "units", []byte("meters")); err != nil {
			return err
		}
		if err := smiol.PutVar(f, "x", nil, f64Bytes(5, 6, 7, 8)); err != nil {
			return err
		}
		if err := smiol.CloseFile(f); err != nil {
			return err
		}

		f2, err := smiol.OpenFile(ctx, path, smiol.FileRead)
		if err != nil {
			return err
		}
		attLen, err := smiol.InquireAtt(f2, varID, "units")
		if err != nil {
			return err
		}
		if attLen != len("meters") {
			return fmt.Errorf("attribute length = %d, want %d", attLen, len("meters"))
		}
		rbuf := make([]byte, 32)
		if err := smiol.GetVar(f2, "x", nil, rbuf); err != nil {
			return err
		}
		if got := f64Vals(rbuf); got[0] != 5 || got[3] != 8 {
			return fmt.Errorf("final contents = %v, want the second write", got)
		}
		return smiol.CloseFile(f2)
	})
}

// Error latching: a write against an undefined variable surfaces
// LIBRARY_ERROR and latches the backend's own message on the context.
func TestErrorLatching(t *testing.T) {
	runWorld(t, 2, func(rank int, comm transport.Comm) error {
		ctx, err := smiol.Init(comm, 1, 2, nil)
		if err != nil {
			return err
		}
		defer smiol.Finalize(ctx)

		f, err := smiol.OpenFile(ctx, "latch.nc", smiol.FileCreate)
		if err != nil {
			return err
		}
		defer smiol.CloseFile(f)

		putErr := smiol.PutVar(f, "no_such_var", nil, f64Bytes(1))
		if putErr == nil {
			return fmt.Errorf("expected an error for an undefined variable")
		}
		if smiol.CodeOf(putErr) != smiol.LIBRARY_ERROR {
			return fmt.Errorf("error code = %d, want LIBRARY_ERROR", smiol.CodeOf(putErr))
		}
		if msg := ctx.LibErrorString(); !strings.Contains(msg, "not found") {
			return fmt.Errorf("LibErrorString = %q, want the backend's not-found text", msg)
		}

		// A later, different backend failure replaces the latched one:
		// the most recent error wins.
		if _, _, err := smiol.InquireDim(f, "no_such_dim"); err == nil {
			return fmt.Errorf("expected an error for an undefined dimension")
		}
		if msg := ctx.LibErrorString(); !strings.Contains(msg, "dimension") {
			return fmt.Errorf("LibErrorString after a second failure = %q, want the dimension-not-found text", msg)
		}
		return nil
	})
}

// Aggregation invariance: the same logical buffer on the same element
// layout produces bit-identical file contents whether or not
// intra-group aggregation is enabled.
func TestAggregationInvariance(t *testing.T) {
	const elems = 12
	write := func(path string, aggFactor int) {
		runWorld(t, 4, func(rank int, comm transport.Comm) error {
			cfg := config.DefaultConfig()
			cfg.AggFactor = aggFactor
			ctx, err := smiol.Init(comm, 2, 2, cfg)
			if err != nil {
				return err
			}
			defer smiol.Finalize(ctx)

			f, err := smiol.OpenFile(ctx, path, smiol.FileCreate)
			if err != nil {
				return err
			}
			cells, err := smiol.DefineDim(f, "nCells", elems)
			if err != nil {
				return err
			}
			if _, err := smiol.DefineVar(f, "x", smiol.REAL64, []smiol.DimID{cells}); err != nil {
				return err
			}

			// Round-robin ownership so the exchange genuinely reorders.
			var mine []int64
			for e := int64(0); e < elems; e++ {
				if int(e)%4 == rank {
					mine = append(mine, e)
				}
			}
			d, err := smiol.CreateDecomp(ctx, len(mine), mine)
			if err != nil {
				return err
			}
			defer smiol.FreeDecomp(d)

			vals := make([]float64, len(mine))
			for i, e := range mine {
				vals[i] = float64(e) * 1.5
			}
			if err := smiol.PutVar(f, "x", d, f64Bytes(vals...)); err != nil {
				return err
			}

			// And the values come back to the right ranks on read.
			if err := smiol.SyncFile(f); err != nil {
				return err
			}
			rbuf := make([]byte, len(mine)*8)
			if err := smiol.GetVar(f, "x", d, rbuf); err != nil {
				return err
			}
			for i, v := range f64Vals(rbuf) {
				if v != vals[i] {
					return fmt.Errorf("agg=%d readback element %d = %v, want %v", aggFactor, mine[i], v, vals[i])
				}
			}
			return smiol.CloseFile(f)
		})
	}

	write("agg_off.nc", 0)
	write("agg_on.nc", 2)

	off, err := backend.Snapshot("agg_off.nc")
	if err != nil {
		t.Fatal(err)
	}
	on, err := backend.Snapshot("agg_on.nc")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(off.Vars[0].Data, on.Vars[0].Data) {
		t.Errorf("aggregation changed file contents:\n  off: %v\n  on:  %v",
			f64Vals(off.Vars[0].Data), f64Vals(on.Vars[0].Data))
	}
}

// Invalid-argument paths are detected locally without backend traffic.
func TestInvalidArguments(t *testing.T) {
	if _, err := smiol.Init(nil, 1, 1, nil); smiol.CodeOf(err) != smiol.INVALID_ARGUMENT {
		t.Errorf("Init(nil comm) code = %v, want INVALID_ARGUMENT", smiol.CodeOf(err))
	}
	if err := smiol.Finalize(nil); err != nil {
		t.Errorf("Finalize(nil) = %v, want nil", err)
	}
	if _, err := smiol.OpenFile(nil, "x.nc", smiol.FileCreate); smiol.CodeOf(err) != smiol.INVALID_ARGUMENT {
		t.Errorf("OpenFile(nil ctx) code = %v, want INVALID_ARGUMENT", smiol.CodeOf(err))
	}
	if err := smiol.PutVar(nil, "x", nil, nil); smiol.CodeOf(err) != smiol.INVALID_ARGUMENT {
		t.Errorf("PutVar(nil file) code = %v, want INVALID_ARGUMENT", smiol.CodeOf(err))
	}
	if _, err := smiol.CreateDecomp(nil, 0, nil); smiol.CodeOf(err) != smiol.INVALID_ARGUMENT {
		t.Errorf("CreateDecomp(nil ctx) code = %v, want INVALID_ARGUMENT", smiol.CodeOf(err))
	}
	smiol.FreeDecomp(nil) // accepts nil

	runWorld(t, 1, func(rank int, comm transport.Comm) error {
		ctx, err := smiol.Init(comm, 1, 1, nil)
		if err != nil {
			return err
		}
		defer smiol.Finalize(ctx)
		if _, err := smiol.OpenFile(ctx, "x.nc", 0); smiol.CodeOf(err) != smiol.INVALID_ARGUMENT {
			return fmt.Errorf("OpenFile(mode 0) code = %v, want INVALID_ARGUMENT", smiol.CodeOf(err))
		}
		f, err := smiol.OpenFile(ctx, "badargs.nc", smiol.FileCreate)
		if err != nil {
			return err
		}
		defer smiol.CloseFile(f)
		longName := strings.Repeat("d", 64)
		if _, err := smiol.DefineDim(f, longName, 4); smiol.CodeOf(err) != smiol.INVALID_ARGUMENT {
			return fmt.Errorf("DefineDim(64-char name) code = %v, want INVALID_ARGUMENT", smiol.CodeOf(err))
		}
		if err := smiol.SetFrame(f, -1); smiol.CodeOf(err) != smiol.INVALID_ARGUMENT {
			return fmt.Errorf("SetFrame(-1) code = %v, want INVALID_ARGUMENT", smiol.CodeOf(err))
		}
		if frame, err := smiol.GetFrame(f); err != nil || frame != 0 {
			return fmt.Errorf("GetFrame = (%d, %v), want (0, nil)", frame, err)
		}
		return nil
	})
}

// The foreign-language wrapper converts an integer communicator handle
// to the native one and delegates to Init.
func TestInitFromHandle(t *testing.T) {
	runWorld(t, 2, func(rank int, comm transport.Comm) error {
		h := transport.HandleOf(comm)
		ctx, err := smiol.InitFromHandle(h, 1, 2, nil)
		if err != nil {
			return err
		}
		return smiol.Finalize(ctx)
	})
	if _, err := smiol.InitFromHandle(transport.Handle(0), 1, 1, nil); smiol.CodeOf(err) != smiol.INVALID_ARGUMENT {
		t.Errorf("InitFromHandle(unknown) code = %v, want INVALID_ARGUMENT", smiol.CodeOf(err))
	}
}

// ErrorString returns fixed text per code.
func TestErrorStrings(t *testing.T) {
	for _, tt := range []struct {
		code smiol.Code
		want string
	}{
		{smiol.SUCCESS, "Success!"},
		{smiol.MALLOC_FAILURE, "malloc returned a null pointer"},
		{smiol.INVALID_ARGUMENT, "invalid subroutine argument"},
		{smiol.MPI_ERROR, "internal MPI call failed"},
		{smiol.FORTRAN_ERROR, "Fortran wrapper detected an inconsistency in C return values"},
		{smiol.LIBRARY_ERROR, "bad return code from a library call"},
		{smiol.WRONG_ARG_TYPE, "argument is of the wrong type"},
		{smiol.INSUFFICIENT_ARG, "argument is of insufficient size"},
		{smiol.ASYNC_ERROR, "failure in SMIOL asynchronous function"},
		{smiol.Code(99), "Unknown error"},
	} {
		if got := smiol.ErrorString(tt.code); got != tt.want {
			t.Errorf("ErrorString(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
