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
Package compression provides the payload compression used around the
edges of the I/O pipeline: snappy for buffered-write payloads resident
in the backend's pending-request table, lz4 for the file archives the
dump tool streams out, and zstd for the exchange-table dumps the
inspect tool produces. One Compressor handles one algorithm; a
BatchCompressor length-prefixes multiple payloads into a single
compressed block so an archive round-trips entry boundaries.
*/
package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm selects a compression algorithm.
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmLZ4
	AlgorithmSnappy
	AlgorithmZstd
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "lz4":
		return AlgorithmLZ4, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %s", s)
	}
}

var (
	ErrCorruptBatch    = errors.New("corrupt batch framing")
	ErrUnsupportedAlgo = errors.New("unsupported compression algorithm")
)

// Compressor compresses and decompresses single payloads with one
// fixed algorithm. It is safe for concurrent use.
type Compressor struct {
	algo Algorithm

	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// New builds a Compressor for algo.
func New(algo Algorithm) (*Compressor, error) {
	c := &Compressor{algo: algo}
	switch algo {
	case AlgorithmNone, AlgorithmLZ4, AlgorithmSnappy:
	case AlgorithmZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		c.zenc, c.zdec = enc, dec
	default:
		return nil, ErrUnsupportedAlgo
	}
	return c, nil
}

// Algorithm reports the algorithm this Compressor was built for.
func (c *Compressor) Algorithm() Algorithm { return c.algo }

// Compress returns data compressed with the Compressor's algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algo {
	case AlgorithmNone:
		return append([]byte(nil), data...), nil
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	case AlgorithmZstd:
		return c.zenc.EncodeAll(data, nil), nil
	case AlgorithmLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, ErrUnsupportedAlgo
	}
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	switch c.algo {
	case AlgorithmNone:
		return append([]byte(nil), data...), nil
	case AlgorithmSnappy:
		return snappy.Decode(nil, data)
	case AlgorithmZstd:
		return c.zdec.DecodeAll(data, nil)
	case AlgorithmLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	default:
		return nil, ErrUnsupportedAlgo
	}
}

// BatchCompressor accumulates payloads and compresses them as one
// block, preserving entry boundaries with a length-prefixed framing.
type BatchCompressor struct {
	c       *Compressor
	entries [][]byte
}

// NewBatchCompressor builds a BatchCompressor over c.
func NewBatchCompressor(c *Compressor) *BatchCompressor {
	return &BatchCompressor{c: c}
}

// Add appends one payload to the pending batch.
func (b *BatchCompressor) Add(entry []byte) {
	b.entries = append(b.entries, append([]byte(nil), entry...))
}

// Flush compresses the pending batch into one block and resets the
// accumulator.
func (b *BatchCompressor) Flush() ([]byte, error) {
	var frame bytes.Buffer
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(b.entries)))
	frame.Write(hdr[:])
	for _, e := range b.entries {
		binary.LittleEndian.PutUint64(hdr[:], uint64(len(e)))
		frame.Write(hdr[:])
		frame.Write(e)
	}
	b.entries = nil
	return b.c.Compress(frame.Bytes())
}

// DecompressBatch reverses Flush, returning the individual payloads.
func (b *BatchCompressor) DecompressBatch(data []byte) ([][]byte, error) {
	raw, err := b.c.Decompress(data)
	if err != nil {
		return nil, err
	}
	if len(raw) < 8 {
		return nil, ErrCorruptBatch
	}
	n := binary.LittleEndian.Uint64(raw[:8])
	raw = raw[8:]
	out := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		if len(raw) < 8 {
			return nil, ErrCorruptBatch
		}
		l := binary.LittleEndian.Uint64(raw[:8])
		raw = raw[8:]
		if uint64(len(raw)) < l {
			return nil, ErrCorruptBatch
		}
		out = append(out, append([]byte(nil), raw[:l]...))
		raw = raw[l:]
	}
	return out, nil
}
