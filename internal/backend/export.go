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

package backend

import (
	"sort"
)

// DimSnapshot and VarSnapshot are the export form of one file's
// metadata and data, consumed by the operator tooling (smiol-dump,
// smiol-inspect, smiol-shell). Data is the variable's raw row-major
// storage as of the snapshot.
type DimSnapshot struct {
	ID   DimID  `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"` // UnlimitedDim for the record dimension
}

type VarSnapshot struct {
	ID       VarID             `json:"id"`
	Name     string            `json:"name"`
	ElemSize int               `json:"elem_size"`
	Dims     []DimID           `json:"dims"`
	Atts     map[string][]byte `json:"atts,omitempty"`
	Data     []byte            `json:"data,omitempty"`
}

type FileSnapshot struct {
	Path    string            `json:"path"`
	Dims    []DimSnapshot     `json:"dims"`
	Vars    []VarSnapshot     `json:"vars"`
	Globals map[string][]byte `json:"globals,omitempty"`
}

// Snapshot copies one path's current contents out of the in-memory
// filesystem.
func Snapshot(path string) (*FileSnapshot, error) {
	f, err := lookupOrCreate(path, false)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := &FileSnapshot{Path: path, Globals: make(map[string][]byte, len(f.globals))}
	for id, d := range f.dims {
		snap.Dims = append(snap.Dims, DimSnapshot{ID: DimID(id), Name: d.name, Size: d.size})
	}
	for id, v := range f.vars {
		vs := VarSnapshot{
			ID:       VarID(id),
			Name:     v.name,
			ElemSize: v.elemSize,
			Dims:     append([]DimID(nil), v.dims...),
			Data:     append([]byte(nil), v.data...),
		}
		if len(v.atts) > 0 {
			vs.Atts = make(map[string][]byte, len(v.atts))
			for k, a := range v.atts {
				vs.Atts[k] = append([]byte(nil), a...)
			}
		}
		snap.Vars = append(snap.Vars, vs)
	}
	for k, a := range f.globals {
		snap.Globals[k] = append([]byte(nil), a...)
	}
	return snap, nil
}

// ListFiles names every path currently present in the in-memory
// filesystem, sorted.
func ListFiles() []string {
	fsMu.Lock()
	defer fsMu.Unlock()
	out := make([]string, 0, len(memFS))
	for p := range memFS {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
