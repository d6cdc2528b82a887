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
smiol-shell - interactive smiol operator shell

Drives a single-process simulated world of N ranks through the smiol
API: open files, define dimensions and variables, build decompositions,
and put/get decomposed or scalar variables, watching how the library
lays data out across I/O ranks.

Usage:
    smiol-shell                       # 4 ranks, 2 I/O tasks, stride 2
    smiol-shell --ranks 8 --stride 4  # custom world layout
*/
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"smiol"
	"smiol/internal/backend"
	"smiol/internal/config"
	"smiol/internal/transport"
	"smiol/pkg/cli"
)

const version = "1.0.0"

// job is one collective step: every rank's goroutine runs it with its
// own rank index, mirroring how every rank of a real MPI job executes
// the same statement.
type job func(rank int) error

// world owns the simulated ranks and the per-rank smiol state the
// shell commands act on.
type world struct {
	n, nIOTasks, stride, aggFactor int

	ctxs    []*smiol.Context
	files   []*smiol.File
	decomps []*smiol.Decomp

	// per-rank element lists of the current decomposition
	elements [][]int64

	jobs []chan job
	errs chan rankErr

	varTypes map[string]smiol.VarType
}

type rankErr struct {
	rank int
	err  error
}

func newWorld(n, nIOTasks, stride, aggFactor int) (*world, error) {
	w := &world{
		n: n, nIOTasks: nIOTasks, stride: stride, aggFactor: aggFactor,
		ctxs:     make([]*smiol.Context, n),
		files:    make([]*smiol.File, n),
		decomps:  make([]*smiol.Decomp, n),
		elements: make([][]int64, n),
		jobs:     make([]chan job, n),
		errs:     make(chan rankErr, n),
		varTypes: make(map[string]smiol.VarType),
	}
	comms := transport.NewWorld(n)
	for r := 0; r < n; r++ {
		w.jobs[r] = make(chan job)
		go func(rank int) {
			for jb := range w.jobs[rank] {
				w.errs <- rankErr{rank: rank, err: jb(rank)}
			}
		}(r)
	}
	err := w.run(func(rank int) error {
		cfg := config.DefaultConfig()
		cfg.AggFactor = aggFactor
		ctx, err := smiol.Init(comms[rank], nIOTasks, stride, cfg)
		if err != nil {
			return err
		}
		w.ctxs[rank] = ctx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// run dispatches one collective job to every rank and returns the
// first failure.
func (w *world) run(j job) error {
	for r := 0; r < w.n; r++ {
		w.jobs[r] <- j
	}
	var first error
	for i := 0; i < w.n; i++ {
		re := <-w.errs
		if re.err != nil && first == nil {
			first = fmt.Errorf("rank %d: %w", re.rank, re.err)
		}
	}
	return first
}

func (w *world) close() {
	_ = w.run(func(rank int) error {
		if w.files[rank] != nil {
			_ = smiol.CloseFile(w.files[rank])
			w.files[rank] = nil
		}
		smiol.FreeDecomp(w.decomps[rank])
		w.decomps[rank] = nil
		return smiol.Finalize(w.ctxs[rank])
	})
	for r := 0; r < w.n; r++ {
		close(w.jobs[r])
	}
}

func main() {
	ranks := flag.Int("ranks", 4, "Number of simulated ranks")
	nIOTasks := flag.Int("iotasks", 2, "Number of I/O tasks")
	stride := flag.Int("stride", 2, "Rank stride between I/O tasks")
	aggFactor := flag.Int("aggfactor", 0, "Ranks per aggregation sub-group (0 disables)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("smiol-shell v%s\n", version)
		return
	}
	if *stride <= 0 || *ranks <= 0 || *nIOTasks <= 0 || (*ranks-1)/(*stride)+1 < *nIOTasks {
		cli.ErrWorldMisconfigured(*ranks, *stride).Exit()
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		cli.PrintInfo("smiol-shell v%s -- %d ranks, %d I/O tasks, stride %d", version, *ranks, *nIOTasks, *stride)
	}

	w, err := newWorld(*ranks, *nIOTasks, *stride, *aggFactor)
	if err != nil {
		cli.PrintError("world setup failed: %v", err)
		os.Exit(1)
	}
	defer w.close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cli.Info("smiol> "),
		HistoryFile:     os.TempDir() + "/.smiol_shell_history",
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
	})
	if err != nil {
		cli.PrintError("readline setup failed: %v", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := dispatch(w, strings.Fields(line)); err != nil {
			if ce, ok := err.(*cli.CLIError); ok {
				ce.Print()
			} else {
				cli.PrintError("%v", err)
			}
		}
	}
}

func completer() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("open"),
		readline.PcItem("dim"),
		readline.PcItem("var"),
		readline.PcItem("att"),
		readline.PcItem("decomp"),
		readline.PcItem("put"),
		readline.PcItem("putscalar"),
		readline.PcItem("get"),
		readline.PcItem("frame"),
		readline.PcItem("sync"),
		readline.PcItem("close"),
		readline.PcItem("ls"),
		readline.PcItem("snapshot"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func dispatch(w *world, args []string) error {
	switch args[0] {
	case "help":
		printHelp()
		return nil
	case "open":
		return cmdOpen(w, args[1:])
	case "dim":
		return cmdDim(w, args[1:])
	case "var":
		return cmdVar(w, args[1:])
	case "att":
		return cmdAtt(w, args[1:])
	case "decomp":
		return cmdDecomp(w, args[1:])
	case "put":
		return cmdPut(w, args[1:])
	case "putscalar":
		return cmdPutScalar(w, args[1:])
	case "get":
		return cmdGet(w, args[1:])
	case "frame":
		return cmdFrame(w, args[1:])
	case "sync":
		return w.run(func(rank int) error { return smiol.SyncFile(w.files[rank]) })
	case "close":
		return w.run(func(rank int) error {
			err := smiol.CloseFile(w.files[rank])
			w.files[rank] = nil
			return err
		})
	case "ls":
		for _, p := range backend.ListFiles() {
			fmt.Println(p)
		}
		return nil
	case "snapshot":
		return cmdSnapshot(args[1:])
	default:
		return cli.ErrInvalidCommand(args[0])
	}
}

func printHelp() {
	h := cli.NewHelpFormatter("smiol-shell", version)
	for _, c := range []cli.Command{
		{Name: "open", Description: "Open or create a file", Usage: "open <path> <create|write|read>"},
		{Name: "dim", Description: "Define a dimension", Usage: "dim <name> <size|unlimited>"},
		{Name: "var", Description: "Define a variable", Usage: "var <name> <real32|real64|int32|char> <dim,...>"},
		{Name: "att", Description: "Attach an attribute", Usage: "att <var|-global> <name> <text>"},
		{Name: "decomp", Description: "Build a block decomposition of N elements", Usage: "decomp <nelems>"},
		{Name: "put", Description: "Write a decomposed variable", Usage: "put <var> <v0,v1,...>"},
		{Name: "putscalar", Description: "Write a non-decomposed variable", Usage: "putscalar <var> <value>"},
		{Name: "get", Description: "Read a variable back", Usage: "get <var> [-scalar]"},
		{Name: "frame", Description: "Set the record frame", Usage: "frame <k>"},
		{Name: "sync", Description: "Drain the writers and sync the file"},
		{Name: "close", Description: "Close the file"},
		{Name: "ls", Description: "List files in the in-memory filesystem"},
		{Name: "snapshot", Description: "Show a file's dimensions and variables", Usage: "snapshot <path>"},
		{Name: "exit", Description: "Leave the shell"},
	} {
		h.AddCommand(c)
	}
	h.PrintUsage()
}

func cmdOpen(w *world, args []string) error {
	if len(args) < 2 {
		return cli.ErrMissingArgument("path/mode", "open <path> <create|write|read>")
	}
	var mode smiol.FileMode
	switch args[1] {
	case "create":
		mode = smiol.FileCreate
	case "write":
		mode = smiol.FileWrite
	case "read":
		mode = smiol.FileRead
	default:
		return cli.ErrInvalidValue("mode", args[1], "must be create, write, or read")
	}
	return w.run(func(rank int) error {
		f, err := smiol.OpenFile(w.ctxs[rank], args[0], mode)
		if err != nil {
			return err
		}
		w.files[rank] = f
		return nil
	})
}

func cmdDim(w *world, args []string) error {
	if len(args) < 2 {
		return cli.ErrMissingArgument("name/size", "dim <name> <size|unlimited>")
	}
	size := backend.UnlimitedDim
	if args[1] != "unlimited" {
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return cli.ErrInvalidValue("size", args[1], "must be an integer or 'unlimited'")
		}
		size = v
	}
	return w.run(func(rank int) error {
		_, err := smiol.DefineDim(w.files[rank], args[0], size)
		return err
	})
}

func cmdVar(w *world, args []string) error {
	if len(args) < 3 {
		return cli.ErrMissingArgument("name/type/dims", "var <name> <real32|real64|int32|char> <dim,...>")
	}
	var vt smiol.VarType
	switch args[1] {
	case "real32":
		vt = smiol.REAL32
	case "real64":
		vt = smiol.REAL64
	case "int32":
		vt = smiol.INT32
	case "char":
		vt = smiol.CHAR
	default:
		return cli.ErrInvalidValue("type", args[1], "must be real32, real64, int32, or char")
	}
	dimNames := splitList(args[2])
	err := w.run(func(rank int) error {
		f := w.files[rank]
		dims := make([]smiol.DimID, len(dimNames))
		for i, dn := range dimNames {
			id, _, err := smiol.InquireDim(f, dn)
			if err != nil {
				return err
			}
			dims[i] = id
		}
		_, err := smiol.DefineVar(f, args[0], vt, dims)
		return err
	})
	if err == nil {
		w.varTypes[args[0]] = vt
	}
	return err
}

func cmdAtt(w *world, args []string) error {
	if len(args) < 3 {
		return cli.ErrMissingArgument("target/name/text", "att <var|-global> <name> <text>")
	}
	text := strings.Join(args[2:], " ")
	return w.run(func(rank int) error {
		f := w.files[rank]
		varID := smiol.GlobalAttr
		if args[0] != "-global" {
			id, _, _, err := smiol.InquireVar(f, args[0])
			if err != nil {
				return err
			}
			varID = id
		}
		return smiol.DefineAtt(f, varID, args[1], []byte(text))
	})
}

func cmdDecomp(w *world, args []string) error {
	if len(args) < 1 {
		return cli.ErrMissingArgument("nelems", "decomp <nelems>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return cli.ErrInvalidValue("nelems", args[0], "must be a positive integer")
	}
	return w.run(func(rank int) error {
		smiol.FreeDecomp(w.decomps[rank])
		lo, hi := rank*n/w.n, (rank+1)*n/w.n
		elems := make([]int64, 0, hi-lo)
		for e := lo; e < hi; e++ {
			elems = append(elems, int64(e))
		}
		w.elements[rank] = elems
		d, err := smiol.CreateDecomp(w.ctxs[rank], len(elems), elems)
		if err != nil {
			return err
		}
		w.decomps[rank] = d
		return nil
	})
}

func cmdPut(w *world, args []string) error {
	if len(args) < 2 {
		return cli.ErrMissingArgument("var/values", "put <var> <v0,v1,...>")
	}
	vt, ok := w.varTypes[args[0]]
	if !ok {
		vt = smiol.REAL64
	}
	vals := splitList(args[1])
	return w.run(func(rank int) error {
		if w.decomps[rank] == nil {
			return fmt.Errorf("no decomposition; run decomp first")
		}
		buf, err := encodeValues(vt, w.elements[rank], vals)
		if err != nil {
			return err
		}
		return smiol.PutVar(w.files[rank], args[0], w.decomps[rank], buf)
	})
}

func cmdPutScalar(w *world, args []string) error {
	if len(args) < 2 {
		return cli.ErrMissingArgument("var/value", "putscalar <var> <value>")
	}
	vt, ok := w.varTypes[args[0]]
	if !ok {
		vt = smiol.REAL64
	}
	return w.run(func(rank int) error {
		buf, err := encodeValues(vt, []int64{0}, []string{args[1]})
		if err != nil {
			return err
		}
		return smiol.PutVar(w.files[rank], args[0], nil, buf)
	})
}

func cmdGet(w *world, args []string) error {
	if len(args) < 1 {
		return cli.ErrMissingArgument("var", "get <var> [-scalar]")
	}
	vt, ok := w.varTypes[args[0]]
	if !ok {
		vt = smiol.REAL64
	}
	scalar := len(args) > 1 && args[1] == "-scalar"
	perRank := make([]string, w.n)
	err := w.run(func(rank int) error {
		f := w.files[rank]
		if scalar || w.decomps[rank] == nil {
			buf := make([]byte, elemBytes(vt))
			if err := smiol.GetVar(f, args[0], nil, buf); err != nil {
				return err
			}
			perRank[rank] = decodeValues(vt, buf)
			return nil
		}
		buf := make([]byte, len(w.elements[rank])*elemBytes(vt))
		if err := smiol.GetVar(f, args[0], w.decomps[rank], buf); err != nil {
			return err
		}
		perRank[rank] = decodeValues(vt, buf)
		return nil
	})
	if err != nil {
		return err
	}
	t := cli.NewTable("rank", "values")
	for r, v := range perRank {
		t.AddRow(strconv.Itoa(r), v)
		if r%w.stride == 0 && r/w.stride < w.nIOTasks {
			t.MarkIORow()
		}
	}
	t.Print()
	return nil
}

func cmdFrame(w *world, args []string) error {
	if len(args) < 1 {
		return cli.ErrMissingArgument("k", "frame <k>")
	}
	k, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || k < 0 {
		return cli.ErrInvalidValue("k", args[0], "must be a non-negative integer")
	}
	return w.run(func(rank int) error { return smiol.SetFrame(w.files[rank], k) })
}

func cmdSnapshot(args []string) error {
	if len(args) < 1 {
		return cli.ErrMissingArgument("path", "snapshot <path>")
	}
	snap, err := backend.Snapshot(args[0])
	if err != nil {
		return cli.ErrFileNotFound(args[0])
	}
	dims := cli.NewTable("dim", "name", "size")
	for _, d := range snap.Dims {
		size := strconv.FormatInt(d.Size, 10)
		if d.Size == backend.UnlimitedDim {
			size = "unlimited"
		}
		dims.AddRow(strconv.Itoa(int(d.ID)), d.Name, size)
	}
	dims.Print()
	vars := cli.NewTable("var", "name", "elem bytes", "dims", "data bytes")
	for _, v := range snap.Vars {
		dimList := make([]string, len(v.Dims))
		for i, d := range v.Dims {
			dimList[i] = strconv.Itoa(int(d))
		}
		vars.AddRow(strconv.Itoa(int(v.ID)), v.Name, strconv.Itoa(v.ElemSize),
			strings.Join(dimList, ","), strconv.Itoa(len(v.Data)))
	}
	vars.Print()
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func elemBytes(vt smiol.VarType) int {
	switch vt {
	case smiol.REAL64:
		return 8
	case smiol.CHAR:
		return 1
	default:
		return 4
	}
}

// encodeValues packs the values this rank owns (the positions named by
// elems) out of the full comma-separated value list.
func encodeValues(vt smiol.VarType, elems []int64, vals []string) ([]byte, error) {
	buf := make([]byte, 0, len(elems)*elemBytes(vt))
	for _, e := range elems {
		if e >= int64(len(vals)) {
			return nil, fmt.Errorf("value list has %d entries; element %d is out of range", len(vals), e)
		}
		s := vals[e]
		switch vt {
		case smiol.REAL64:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		case smiol.REAL32:
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, err
			}
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
		case smiol.INT32:
			v, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return nil, err
			}
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		case smiol.CHAR:
			if len(s) != 1 {
				return nil, fmt.Errorf("char value must be a single character, got %q", s)
			}
			buf = append(buf, s[0])
		}
	}
	return buf, nil
}

func decodeValues(vt smiol.VarType, buf []byte) string {
	var out []string
	for off := 0; off+elemBytes(vt) <= len(buf); off += elemBytes(vt) {
		switch vt {
		case smiol.REAL64:
			v := math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
			out = append(out, strconv.FormatFloat(v, 'g', -1, 64))
		case smiol.REAL32:
			v := math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
			out = append(out, strconv.FormatFloat(float64(v), 'g', -1, 32))
		case smiol.INT32:
			out = append(out, strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(buf[off:]))), 10))
		case smiol.CHAR:
			out = append(out, string(buf[off]))
		}
	}
	return strings.Join(out, ",")
}
