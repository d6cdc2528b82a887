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
smiol-dump - export smiol file images as portable lz4 archives

Snapshots one or more files from the in-memory filesystem (metadata,
attributes, and data pages) into a single lz4-compressed archive. With
--demo it first generates a sample multi-rank workload so the archive
format can be exercised without a hosting application.

Usage:
    smiol-dump --demo -o demo.smdump
    smiol-dump --demo --ranks 8 --elems 64 -o demo.smdump
*/
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"smiol"
	"smiol/internal/backend"
	"smiol/internal/compression"
	"smiol/internal/config"
	"smiol/internal/transport"
	"smiol/pkg/cli"
)

const version = "1.0.0"

func main() {
	out := flag.String("o", "smiol.smdump", "Output archive path")
	paths := flag.String("paths", "", "Comma-separated file paths to dump (default: all)")
	demo := flag.Bool("demo", false, "Generate a sample workload before dumping")
	ranks := flag.Int("ranks", 4, "Demo workload: number of ranks")
	nIOTasks := flag.Int("iotasks", 2, "Demo workload: number of I/O tasks")
	stride := flag.Int("stride", 2, "Demo workload: I/O task stride")
	elems := flag.Int("elems", 16, "Demo workload: global element count")
	force := flag.Bool("f", false, "Overwrite the output archive without asking")
	flag.Parse()

	if *demo {
		if err := runDemo(*ranks, *nIOTasks, *stride, *elems); err != nil {
			cli.PrintError("demo workload failed: %v", err)
			os.Exit(1)
		}
	}

	targets := parsePaths(*paths, backend.ListFiles())
	if len(targets) == 0 {
		cli.ErrFileNotFound("(no files in the in-memory filesystem)").Exit()
	}

	if _, err := os.Stat(*out); err == nil && !*force {
		if !cli.Confirm(fmt.Sprintf("Archive %s already exists and will be overwritten.", *out)) {
			return
		}
	}

	spinner := cli.NewSpinner(fmt.Sprintf("Dumping %d file(s)...", len(targets)))
	spinner.Start()
	archive, err := buildArchive(targets)
	if err != nil {
		spinner.StopWithError(err.Error())
		os.Exit(1)
	}
	if err := os.WriteFile(*out, archive, 0o644); err != nil {
		spinner.StopWithError(err.Error())
		os.Exit(1)
	}
	spinner.StopWithSuccess(fmt.Sprintf("Wrote %s (%d bytes, %d file(s))", *out, len(archive), len(targets)))
}

// parsePaths resolves the --paths list against the files that actually
// exist, defaulting to all of them.
func parsePaths(pathStr string, existing []string) []string {
	if strings.TrimSpace(pathStr) == "" {
		return existing
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p] = true
	}
	result := []string{}
	for _, p := range strings.Split(pathStr, ",") {
		p = strings.TrimSpace(p)
		if p != "" && known[p] {
			result = append(result, p)
		}
	}
	return result
}

// buildArchive batches each file's JSON-encoded snapshot into one
// lz4-compressed block.
func buildArchive(paths []string) ([]byte, error) {
	comp, err := compression.New(compression.AlgorithmLZ4)
	if err != nil {
		return nil, err
	}
	batch := compression.NewBatchCompressor(comp)
	for _, p := range paths {
		snap, err := backend.Snapshot(p)
		if err != nil {
			return nil, err
		}
		enc, err := json.Marshal(snap)
		if err != nil {
			return nil, err
		}
		batch.Add(enc)
	}
	return batch.Flush()
}

// runDemo drives a small put_var workload across a simulated world so
// the in-memory filesystem has something to dump.
func runDemo(n, nIOTasks, stride, elems int) error {
	if stride <= 0 || n <= 0 || nIOTasks <= 0 || (n-1)/stride+1 < nIOTasks {
		return fmt.Errorf("%d ranks with stride %d cannot host %d I/O tasks", n, stride, nIOTasks)
	}
	comms := transport.NewWorld(n)
	bar := cli.NewProgressBar(n, "demo ranks done")

	var wg sync.WaitGroup
	errs := make([]error, n)
	var done sync.Mutex
	finished := 0
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = demoRank(comms[rank], rank, n, nIOTasks, stride, elems)
			done.Lock()
			finished++
			bar.Update(finished)
			done.Unlock()
		}(r)
	}
	wg.Wait()
	bar.Complete()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func demoRank(comm transport.Comm, rank, n, nIOTasks, stride, elems int) error {
	ctx, err := smiol.Init(comm, nIOTasks, stride, config.DefaultConfig())
	if err != nil {
		return err
	}
	defer smiol.Finalize(ctx)

	f, err := smiol.OpenFile(ctx, "demo.nc", smiol.FileCreate)
	if err != nil {
		return err
	}
	cells, err := smiol.DefineDim(f, "nCells", int64(elems))
	if err != nil {
		return err
	}
	if _, err := smiol.DefineVar(f, "x", smiol.REAL64, []smiol.DimID{cells}); err != nil {
		return err
	}
	if err := smiol.DefineAtt(f, smiol.GlobalAttr, "source", []byte("smiol-dump --demo")); err != nil {
		return err
	}

	lo, hi := rank*elems/n, (rank+1)*elems/n
	mine := make([]int64, 0, hi-lo)
	buf := make([]byte, 0, (hi-lo)*8)
	for e := lo; e < hi; e++ {
		mine = append(mine, int64(e))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(float64(e)))
	}
	d, err := smiol.CreateDecomp(ctx, len(mine), mine)
	if err != nil {
		return err
	}
	defer smiol.FreeDecomp(d)

	if err := smiol.PutVar(f, "x", d, buf); err != nil {
		return err
	}
	return smiol.CloseFile(f)
}
