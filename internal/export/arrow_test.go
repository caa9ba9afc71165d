package export

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ianterrell/dmc/internal/dmc"
	"github.com/ianterrell/dmc/internal/estimate"
	"github.com/ianterrell/dmc/internal/potential"
	"github.com/ianterrell/dmc/internal/store"
)

func runEngine(t *testing.T, iterations int) *dmc.Engine {
	t.Helper()
	p := dmc.DefaultParams()
	p.Walkers = 200
	e, err := dmc.New(p, potential.Harmonic{})
	if err != nil {
		t.Fatalf("dmc.New() error = %v", err)
	}
	for i := 0; i < iterations; i++ {
		if err := e.Iterate(); err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
	}
	return e
}

func TestWalkers_RoundTrip(t *testing.T) {
	e := runEngine(t, 5)
	snap := e.Snapshot()

	var buf bytes.Buffer
	if err := WriteWalkers(&buf, snap, e.Potential()); err != nil {
		t.Fatalf("WriteWalkers() error = %v", err)
	}

	got, err := ReadWalkers(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadWalkers() error = %v", err)
	}

	if got.Time != snap.Time || got.RefEnergy != snap.RefEnergy {
		t.Errorf("metadata time/ref_energy = %v/%v, want %v/%v", got.Time, got.RefEnergy, snap.Time, snap.RefEnergy)
	}
	if got.Target != 200 || got.TimeStep != 0.1 {
		t.Errorf("metadata target/dtau = %d/%v, want 200/0.1", got.Target, got.TimeStep)
	}
	if len(got.Positions) != snap.Size {
		t.Fatalf("read %d positions, want %d", len(got.Positions), snap.Size)
	}
	for i, x := range snap.Positions {
		if got.Positions[i] != x {
			t.Fatalf("position %d = %v, want %v", i, got.Positions[i], x)
		}
		if got.Potentials[i] != 0.5*x*x {
			t.Fatalf("potential %d = %v, want %v", i, got.Potentials[i], 0.5*x*x)
		}
	}
}

func TestWalkers_Empty(t *testing.T) {
	snap := dmc.Snapshot{TargetSize: 10, TimeStep: 0.05, RefEnergy: -1}

	var buf bytes.Buffer
	if err := WriteWalkers(&buf, snap, potential.Identity{}); err != nil {
		t.Fatalf("WriteWalkers() error = %v", err)
	}
	got, err := ReadWalkers(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadWalkers() error = %v", err)
	}
	if len(got.Positions) != 0 || got.Target != 10 || got.RefEnergy != -1 {
		t.Errorf("ReadWalkers() = %+v", got)
	}
}

func TestReadWalkers_NotArrow(t *testing.T) {
	if _, err := ReadWalkers(bytes.NewReader([]byte("not an arrow file"))); err == nil {
		t.Error("ReadWalkers() on garbage succeeded")
	}
}

func TestReadWalkers_MissingColumn(t *testing.T) {
	md := arrow.NewMetadata(
		[]string{MetaTime, MetaRefEnergy, MetaTarget, MetaTimeStep},
		[]string{"0.5", "0.49", "100", "0.1"},
	)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "position", Type: arrow.PrimitiveTypes.Float64},
	}, &md)

	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Float64Builder).AppendValues([]float64{0.1, -0.2}, nil)

	var buf bytes.Buffer
	if err := writeRecord(&buf, mem, schema, b); err != nil {
		t.Fatalf("writeRecord() error = %v", err)
	}
	if _, err := ReadWalkers(bytes.NewReader(buf.Bytes())); err == nil {
		t.Fatal("ReadWalkers() accepted a file with one column")
	}
}

func TestWritePhi0(t *testing.T) {
	p, err := estimate.NewPhi0Estimate(-2, 2, 4)
	if err != nil {
		t.Fatalf("NewPhi0Estimate() error = %v", err)
	}
	p.Observe([]float64{-1.5, 0.5, 0.5, 1.5})

	var buf bytes.Buffer
	if err := WritePhi0(&buf, p); err != nil {
		t.Fatalf("WritePhi0() error = %v", err)
	}

	fr, err := ipc.NewFileReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewFileReader() error = %v", err)
	}
	defer fr.Close()

	rec, err := fr.Record(0)
	if err != nil {
		t.Fatalf("Record(0) error = %v", err)
	}
	if rec.NumRows() != 4 {
		t.Fatalf("NumRows() = %d, want 4", rec.NumRows())
	}

	xs := rec.Column(0).(*array.Float64).Float64Values()
	counts := rec.Column(1).(*array.Int64).Int64Values()
	phi := rec.Column(2).(*array.Float64).Float64Values()

	wantX := []float64{-1.5, -0.5, 0.5, 1.5}
	wantCounts := []int64{1, 0, 2, 1}
	norm := p.Normalized()
	for i := range wantX {
		if xs[i] != wantX[i] || counts[i] != wantCounts[i] || phi[i] != norm[i] {
			t.Errorf("row %d = (%v, %d, %v), want (%v, %d, %v)", i, xs[i], counts[i], phi[i], wantX[i], wantCounts[i], norm[i])
		}
	}
}

func TestWriteHistory(t *testing.T) {
	rows := []store.IterationRecord{
		{Index: 0, Time: 0.1, Size: 501, RefEnergy: 0.05, Births: 3, Deaths: 2},
		{Index: 1, Time: 0.2, Size: 499, RefEnergy: 0.07, Births: 1, Deaths: 3},
	}

	path := filepath.Join(t.TempDir(), "history.arrow")
	err := WriteFile(path, func(w io.Writer) error { return WriteHistory(w, rows) })
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	fr, err := ipc.NewFileReader(f)
	if err != nil {
		t.Fatalf("NewFileReader() error = %v", err)
	}
	defer fr.Close()

	if fr.Schema().NumFields() != 6 {
		t.Errorf("NumFields() = %d, want 6", fr.Schema().NumFields())
	}
	rec, err := fr.Record(0)
	if err != nil {
		t.Fatalf("Record(0) error = %v", err)
	}
	size := rec.Column(2).(*array.Int64).Int64Values()
	er := rec.Column(3).(*array.Float64).Float64Values()
	if size[0] != 501 || size[1] != 499 || er[1] != 0.07 {
		t.Errorf("history columns = %v, %v", size, er)
	}
}

func TestWriteFile_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.arrow")
	err := WriteFile(path, func(w io.Writer) error { return nil })
	if err == nil {
		t.Error("WriteFile() into a missing directory succeeded")
	}
}
