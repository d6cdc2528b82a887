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
smiol-inspect - decomposition inspector

Builds the decomposition a given world layout would produce and shows
how the global element list maps onto I/O-rank slabs: per-rank
io_start/io_count, compute-element count, and aggregated element count.
With -o it writes the full exchange tables as a zstd-compressed JSON
dump for offline debugging.

Usage:
    smiol-inspect --ranks 8 --iotasks 2 --stride 4 --elems 100
    smiol-inspect --ranks 8 --stride 4 --elems 100 --aggfactor 2 -o decomp.szst
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"

	"smiol/internal/compression"
	"smiol/internal/decomp"
	"smiol/internal/transport"
	"smiol/pkg/cli"
)

const version = "1.0.0"

// rankReport is one rank's view of the decomposition.
type rankReport struct {
	Rank        int     `json:"rank"`
	IsIOTask    bool    `json:"is_io_task"`
	IOStart     int64   `json:"io_start"`
	IOCount     int64   `json:"io_count"`
	NCompute    int     `json:"n_compute"`
	NComputeAgg int     `json:"n_compute_agg,omitempty"`
	Elements    []int64 `json:"elements,omitempty"`
}

// tableDump is the full exchange-table dump written with -o; the
// global order can be large, which is why the dump is zstd-compressed.
type tableDump struct {
	Ranks       int          `json:"ranks"`
	NumIOTasks  int          `json:"num_io_tasks"`
	Stride      int          `json:"stride"`
	AggFactor   int          `json:"agg_factor"`
	GlobalCount int64        `json:"global_count"`
	GlobalOrder []int64      `json:"global_order"`
	Counts      []int        `json:"counts"`
	Displs      []int        `json:"displs"`
	PerRank     []rankReport `json:"per_rank"`
}

func main() {
	ranks := flag.Int("ranks", 4, "Number of simulated ranks")
	nIOTasks := flag.Int("iotasks", 2, "Number of I/O tasks")
	stride := flag.Int("stride", 2, "Rank stride between I/O tasks")
	aggFactor := flag.Int("aggfactor", 0, "Ranks per aggregation sub-group (0 disables)")
	elems := flag.Int("elems", 16, "Global element count, block-partitioned across ranks")
	out := flag.String("o", "", "Write zstd-compressed exchange tables to this path")
	verbose := flag.Bool("verbose", false, "Include each rank's element list in the table")
	format := flag.String("format", "table", "Report format: table, json, or plain")
	flag.Parse()

	if *stride <= 0 || *ranks <= 0 || *nIOTasks <= 0 || (*ranks-1)/(*stride)+1 < *nIOTasks {
		cli.ErrWorldMisconfigured(*ranks, *stride).Exit()
	}

	dump, err := inspect(*ranks, *nIOTasks, *stride, *aggFactor, *elems)
	if err != nil {
		cli.PrintError("decomposition failed: %v", err)
		os.Exit(1)
	}

	printReport(dump, *verbose, cli.ParseOutputFormat(*format))

	if *out != "" {
		if err := writeDump(*out, dump); err != nil {
			cli.PrintError("dump failed: %v", err)
			os.Exit(1)
		}
		cli.PrintSuccess("Wrote exchange tables to %s", *out)
	}
}

// inspect builds the decomposition on a simulated world and collects
// every rank's report plus the root's exchange tables.
func inspect(n, nIOTasks, stride, aggFactor, elems int) (*tableDump, error) {
	comms := transport.NewWorld(n)
	dump := &tableDump{
		Ranks: n, NumIOTasks: nIOTasks, Stride: stride, AggFactor: aggFactor,
		PerRank: make([]rankReport, n),
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			lo, hi := rank*elems/n, (rank+1)*elems/n
			mine := make([]int64, 0, hi-lo)
			for e := lo; e < hi; e++ {
				mine = append(mine, int64(e))
			}
			d, err := decomp.Create(decomp.Params{
				Comm: comms[rank], Stride: stride, NumIOTasks: nIOTasks, AggFactor: aggFactor,
			}, len(mine), mine)
			if err != nil {
				errs[rank] = err
				return
			}
			defer decomp.Free(d)

			rep := rankReport{
				Rank:     rank,
				IsIOTask: rank%stride == 0 && rank/stride < nIOTasks,
				IOStart:  d.IOStart(),
				IOCount:  d.IOCount(),
				NCompute: len(mine),
				Elements: mine,
			}
			if d.Agg != nil {
				rep.NComputeAgg = d.Agg.NComputeAgg
			}
			dump.PerRank[rank] = rep
			if d.IsRoot() {
				dump.GlobalCount = d.GlobalCount()
				dump.GlobalOrder = d.GlobalOrder()
				dump.Counts = d.Counts()
				dump.Displs = d.Displs()
			}
		}(r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return dump, nil
}

func printReport(dump *tableDump, verbose bool, format cli.OutputFormat) {
	if format == cli.FormatTable {
		cli.PrintInfo("%d elements over %d ranks (%d I/O tasks, stride %d, agg factor %d)",
			dump.GlobalCount, dump.Ranks, dump.NumIOTasks, dump.Stride, dump.AggFactor)
	}

	headers := []string{"rank", "io_start", "io_count", "n_compute", "n_compute_agg"}
	if verbose {
		headers = append(headers, "elements")
	}
	t := cli.NewTable(headers...)
	t.SetFormat(format)
	for _, rep := range dump.PerRank {
		row := []string{
			strconv.Itoa(rep.Rank),
			strconv.FormatInt(rep.IOStart, 10),
			strconv.FormatInt(rep.IOCount, 10),
			strconv.Itoa(rep.NCompute),
			strconv.Itoa(rep.NComputeAgg),
		}
		if verbose {
			row = append(row, fmt.Sprint(rep.Elements))
		}
		t.AddRow(row...)
		if rep.IsIOTask {
			t.MarkIORow()
		}
	}
	t.Print()
}

func writeDump(path string, dump *tableDump) error {
	enc, err := json.Marshal(dump)
	if err != nil {
		return err
	}
	comp, err := compression.New(compression.AlgorithmZstd)
	if err != nil {
		return err
	}
	compressed, err := comp.Compress(enc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, compressed, 0o644)
}
