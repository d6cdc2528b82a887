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
	"bytes"
	"errors"
	"testing"
)

func TestDefineModeRules(t *testing.T) {
	be := NewMemBackend()
	if err := be.Create("mode_rules.nc"); err != nil {
		t.Fatal(err)
	}
	if be.InDataMode() {
		t.Fatal("a created file should start in define mode")
	}
	dim, err := be.DefDim("n", 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := be.DefVar("x", 8, []DimID{dim}); err != nil {
		t.Fatal(err)
	}
	if err := be.Enddef(); err != nil {
		t.Fatal(err)
	}
	if !be.InDataMode() {
		t.Fatal("Enddef should move to data mode")
	}
	if _, err := be.DefDim("m", 2); err == nil {
		t.Error("DefDim should fail in data mode")
	}
	if err := be.Enddef(); err == nil {
		t.Error("Enddef should fail when already in data mode")
	}
	if err := be.Redef(); err != nil {
		t.Fatal(err)
	}
	if err := be.Redef(); err == nil {
		t.Error("Redef should fail when already in define mode")
	}
	if _, err := be.DefDim("m", 2); err != nil {
		t.Errorf("DefDim should work again after Redef: %v", err)
	}
}

func TestCollectiveIdempotentDefines(t *testing.T) {
	// Two handles on the same path, as two I/O ranks of one job.
	a, b := NewMemBackend(), NewMemBackend()
	if err := a.Create("idempotent.nc"); err != nil {
		t.Fatal(err)
	}
	if err := b.Create("idempotent.nc"); err != nil {
		t.Fatal(err)
	}

	dimA, err := a.DefDim("n", 4)
	if err != nil {
		t.Fatal(err)
	}
	dimB, err := b.DefDim("n", 4)
	if err != nil {
		t.Fatalf("identical re-definition from a peer handle should resolve: %v", err)
	}
	if dimA != dimB {
		t.Errorf("peer handles resolved different dim ids: %d vs %d", dimA, dimB)
	}
	if _, err := b.DefDim("n", 5); err == nil {
		t.Error("re-definition with a different size should fail")
	}

	varA, err := a.DefVar("x", 8, []DimID{dimA})
	if err != nil {
		t.Fatal(err)
	}
	varB, err := b.DefVar("x", 8, []DimID{dimB})
	if err != nil {
		t.Fatal(err)
	}
	if varA != varB {
		t.Errorf("peer handles resolved different var ids: %d vs %d", varA, varB)
	}
	if _, err := b.DefVar("x", 4, []DimID{dimB}); err == nil {
		t.Error("re-definition with a different element size should fail")
	}
}

func TestSharedStorageAcrossHandles(t *testing.T) {
	a, b := NewMemBackend(), NewMemBackend()
	if err := a.Create("shared.nc"); err != nil {
		t.Fatal(err)
	}
	if err := b.Create("shared.nc"); err != nil {
		t.Fatal(err)
	}
	dim, _ := a.DefDim("n", 4)
	varID, _ := a.DefVar("x", 1, []DimID{dim})
	if _, err := b.DefDim("n", 4); err != nil {
		t.Fatal(err)
	}
	if _, err := b.DefVar("x", 1, []DimID{dim}); err != nil {
		t.Fatal(err)
	}
	_ = a.Enddef()
	_ = b.Enddef()

	if err := a.PutVara(varID, []int64{0}, []int64{4}, []byte("abcd")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if err := b.GetVara(varID, []int64{0}, []int64{4}, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcd" {
		t.Errorf("peer handle read %q, want %q", got, "abcd")
	}
}

func TestReopenAfterClose(t *testing.T) {
	be := NewMemBackend()
	if err := be.Create("reopen.nc"); err != nil {
		t.Fatal(err)
	}
	dim, _ := be.DefDim("n", 2)
	varID, _ := be.DefVar("x", 1, []DimID{dim})
	_ = be.Enddef()
	if err := be.PutVara(varID, []int64{0}, []int64{2}, []byte("hi")); err != nil {
		t.Fatal(err)
	}
	if err := be.Close(); err != nil {
		t.Fatal(err)
	}

	be2 := NewMemBackend()
	if err := be2.Open("reopen.nc"); err != nil {
		t.Fatal(err)
	}
	if !be2.InDataMode() {
		t.Error("an opened existing file should start in data mode")
	}
	got := make([]byte, 2)
	if err := be2.GetVara(varID, []int64{0}, []int64{2}, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hi" {
		t.Errorf("reopened file read %q, want %q", got, "hi")
	}

	var nf *NotFoundError
	if err := NewMemBackend().Open("never_created.nc"); !errors.As(err, &nf) {
		t.Errorf("Open on a missing path = %v, want NotFoundError", err)
	}
}

func TestBufferedWritesInvisibleUntilWaitAll(t *testing.T) {
	be := NewMemBackend()
	if err := be.Create("buffered.nc"); err != nil {
		t.Fatal(err)
	}
	dim, _ := be.DefDim("n", 4)
	varID, _ := be.DefVar("x", 1, []DimID{dim})
	_ = be.Enddef()

	if _, err := be.BputVara(varID, []int64{0}, []int64{4}, []byte("wxyz")); err == nil {
		t.Fatal("BputVara should fail with no buffer attached")
	}
	if err := be.AttachBuffer(64); err != nil {
		t.Fatal(err)
	}

	req, err := be.BputVara(varID, []int64{0}, []int64{4}, []byte("wxyz"))
	if err != nil {
		t.Fatal(err)
	}
	usage, err := be.InqBufferUsage()
	if err != nil {
		t.Fatal(err)
	}
	if usage != 4 {
		t.Errorf("buffer usage = %d, want 4", usage)
	}

	got := make([]byte, 4)
	if err := be.GetVara(varID, []int64{0}, []int64{4}, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, make([]byte, 4)) {
		t.Error("buffered write became visible before WaitAll")
	}

	if err := be.DetachBuffer(); err == nil {
		t.Error("DetachBuffer should fail with outstanding requests")
	}
	if err := be.Close(); err == nil {
		t.Error("Close should fail with outstanding requests")
	}

	if err := be.WaitAll([]int{req}); err != nil {
		t.Fatal(err)
	}
	if err := be.GetVara(varID, []int64{0}, []int64{4}, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "wxyz" {
		t.Errorf("after WaitAll read %q, want %q", got, "wxyz")
	}
	usage, _ = be.InqBufferUsage()
	if usage != 0 {
		t.Errorf("buffer usage after WaitAll = %d, want 0", usage)
	}
	if err := be.DetachBuffer(); err != nil {
		t.Errorf("DetachBuffer after WaitAll: %v", err)
	}
	if err := be.WaitAll([]int{req}); err == nil {
		t.Error("WaitAll on an already-retired request should fail")
	}
}

func TestBputVaraRejectsOverfill(t *testing.T) {
	be := NewMemBackend()
	if err := be.Create("overfill.nc"); err != nil {
		t.Fatal(err)
	}
	dim, _ := be.DefDim("n", 64)
	varID, _ := be.DefVar("x", 1, []DimID{dim})
	_ = be.Enddef()
	if err := be.AttachBuffer(10); err != nil {
		t.Fatal(err)
	}
	if _, err := be.BputVara(varID, []int64{0}, []int64{8}, make([]byte, 8)); err != nil {
		t.Fatal(err)
	}
	if _, err := be.BputVara(varID, []int64{8}, []int64{8}, make([]byte, 8)); err == nil {
		t.Error("BputVara past the attached buffer's capacity should fail")
	}
}

func TestRecordVariableGrowth(t *testing.T) {
	be := NewMemBackend()
	if err := be.Create("record.nc"); err != nil {
		t.Fatal(err)
	}
	timeDim, _ := be.DefDim("time", UnlimitedDim)
	nDim, _ := be.DefDim("n", 2)
	varID, err := be.DefVar("v", 1, []DimID{timeDim, nDim})
	if err != nil {
		t.Fatal(err)
	}
	_ = be.Enddef()

	if err := be.PutVara(varID, []int64{3, 0}, []int64{1, 2}, []byte("ab")); err != nil {
		t.Fatal(err)
	}
	// Earlier, never-written frames read back zeroed.
	got := make([]byte, 2)
	if err := be.GetVara(varID, []int64{1, 0}, []int64{1, 2}, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0, 0}) {
		t.Errorf("unwritten frame read %v, want zeros", got)
	}
	if err := be.GetVara(varID, []int64{3, 0}, []int64{1, 2}, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "ab" {
		t.Errorf("frame 3 read %q, want %q", got, "ab")
	}
}

func TestAttributes(t *testing.T) {
	be := NewMemBackend()
	if err := be.Create("atts.nc"); err != nil {
		t.Fatal(err)
	}
	dim, _ := be.DefDim("n", 1)
	varID, _ := be.DefVar("x", 4, []DimID{dim})

	if err := be.PutAtt(GlobalAttr, "title", []byte("test file")); err != nil {
		t.Fatal(err)
	}
	if err := be.PutAtt(varID, "units", []byte("m/s")); err != nil {
		t.Fatal(err)
	}

	v, err := be.GetAtt(GlobalAttr, "title")
	if err != nil || string(v) != "test file" {
		t.Errorf("global att = (%q, %v), want (test file, nil)", v, err)
	}
	n, err := be.InqAtt(varID, "units")
	if err != nil || n != 3 {
		t.Errorf("InqAtt = (%d, %v), want (3, nil)", n, err)
	}
	var nf *NotFoundError
	if _, err := be.GetAtt(varID, "missing"); !errors.As(err, &nf) {
		t.Errorf("missing attribute = %v, want NotFoundError", err)
	}
}

func TestSnapshotAndListFiles(t *testing.T) {
	be := NewMemBackend()
	if err := be.Create("snapshot_me.nc"); err != nil {
		t.Fatal(err)
	}
	dim, _ := be.DefDim("n", 3)
	varID, _ := be.DefVar("x", 1, []DimID{dim})
	_ = be.PutAtt(GlobalAttr, "origin", []byte("test"))
	_ = be.Enddef()
	_ = be.PutVara(varID, []int64{0}, []int64{3}, []byte("xyz"))

	snap, err := Snapshot("snapshot_me.nc")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Dims) != 1 || snap.Dims[0].Name != "n" || snap.Dims[0].Size != 3 {
		t.Errorf("snapshot dims = %+v", snap.Dims)
	}
	if len(snap.Vars) != 1 || snap.Vars[0].Name != "x" || string(snap.Vars[0].Data) != "xyz" {
		t.Errorf("snapshot vars = %+v", snap.Vars)
	}
	if string(snap.Globals["origin"]) != "test" {
		t.Errorf("snapshot globals = %v", snap.Globals)
	}

	found := false
	for _, p := range ListFiles() {
		if p == "snapshot_me.nc" {
			found = true
		}
	}
	if !found {
		t.Error("ListFiles does not include snapshot_me.nc")
	}
	if _, err := Snapshot("no_such_file.nc"); err == nil {
		t.Error("Snapshot of a missing path should fail")
	}
}

func TestErrnoRegistry(t *testing.T) {
	if RegisterErrno(nil) != 0 {
		t.Error("nil error should register as errno 0")
	}
	e := errors.New("backend: something specific broke")
	a := RegisterErrno(e)
	b := RegisterErrno(errors.New("backend: something specific broke"))
	if a != b {
		t.Errorf("same message registered twice: %d vs %d", a, b)
	}
	if got := ErrnoString(a); got != e.Error() {
		t.Errorf("ErrnoString(%d) = %q, want %q", a, got, e.Error())
	}
	if got := ErrnoString(999999); got != "unknown backend error" {
		t.Errorf("unknown errno resolves to %q", got)
	}
}
