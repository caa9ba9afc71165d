// Package export writes simulation data as Arrow IPC files.
//
// Three tables are produced:
//   - walkers: position and potential energy of every walker at one instant,
//     with the engine's time, reference energy, target size and step in the
//     schema metadata
//   - phi0: the accumulated ground-state estimate per bin
//   - history: the per-iteration record of a stored run
package export

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ianterrell/dmc/internal/dmc"
	"github.com/ianterrell/dmc/internal/estimate"
	"github.com/ianterrell/dmc/internal/potential"
	"github.com/ianterrell/dmc/internal/store"
)

// Metadata keys on the walkers schema.
const (
	MetaTime      = "time"
	MetaRefEnergy = "ref_energy"
	MetaTarget    = "target"
	MetaTimeStep  = "dtau"
)

var (
	phi0Schema = arrow.NewSchema([]arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Float64},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
		{Name: "phi0", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	historySchema = arrow.NewSchema([]arrow.Field{
		{Name: "index", Type: arrow.PrimitiveTypes.Int64},
		{Name: "tau", Type: arrow.PrimitiveTypes.Float64},
		{Name: "walkers", Type: arrow.PrimitiveTypes.Int64},
		{Name: "ref_energy", Type: arrow.PrimitiveTypes.Float64},
		{Name: "births", Type: arrow.PrimitiveTypes.Int64},
		{Name: "deaths", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
)

// Walkers is a walker table read back from a file.
type Walkers struct {
	Positions  []float64
	Potentials []float64
	Time       float64
	RefEnergy  float64
	Target     int
	TimeStep   float64
}

func walkersSchema(s dmc.Snapshot) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{MetaTime, MetaRefEnergy, MetaTarget, MetaTimeStep},
		[]string{
			formatFloat(s.Time),
			formatFloat(s.RefEnergy),
			strconv.Itoa(s.TargetSize),
			formatFloat(s.TimeStep),
		},
	)
	return arrow.NewSchema([]arrow.Field{
		{Name: "position", Type: arrow.PrimitiveTypes.Float64},
		{Name: "potential", Type: arrow.PrimitiveTypes.Float64},
	}, &md)
}

// WriteWalkers writes the walkers in s, with their potential energy under v,
// as a single-record Arrow file.
func WriteWalkers(w io.Writer, s dmc.Snapshot, v potential.Potential) error {
	mem := memory.NewGoAllocator()
	schema := walkersSchema(s)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	pos := b.Field(0).(*array.Float64Builder)
	pot := b.Field(1).(*array.Float64Builder)
	pos.Reserve(len(s.Positions))
	pot.Reserve(len(s.Positions))
	for _, x := range s.Positions {
		pos.Append(x)
		pot.Append(v.At(x))
	}

	return writeRecord(w, mem, schema, b)
}

// ReadWalkers reads a file written by WriteWalkers.
func ReadWalkers(r ipc.ReadAtSeeker) (*Walkers, error) {
	fr, err := ipc.NewFileReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening arrow file: %w", err)
	}
	defer fr.Close()

	out := &Walkers{}
	md := fr.Schema().Metadata()
	if out.Time, err = metaFloat(md, MetaTime); err != nil {
		return nil, err
	}
	if out.RefEnergy, err = metaFloat(md, MetaRefEnergy); err != nil {
		return nil, err
	}
	if out.TimeStep, err = metaFloat(md, MetaTimeStep); err != nil {
		return nil, err
	}
	target, err := metaFloat(md, MetaTarget)
	if err != nil {
		return nil, err
	}
	out.Target = int(target)

	if n := fr.Schema().NumFields(); n < 2 {
		return nil, fmt.Errorf("walkers file has %d columns, want position and potential", n)
	}

	out.Positions = []float64{}
	out.Potentials = []float64{}
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("reading record %d: %w", i, err)
		}
		pos, ok := rec.Column(0).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("column %q is %s, want float64", rec.ColumnName(0), rec.Column(0).DataType())
		}
		pot, ok := rec.Column(1).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("column %q is %s, want float64", rec.ColumnName(1), rec.Column(1).DataType())
		}
		out.Positions = append(out.Positions, pos.Float64Values()...)
		out.Potentials = append(out.Potentials, pot.Float64Values()...)
	}
	return out, nil
}

// WritePhi0 writes the bins of p with their raw counts and normalized phi0.
func WritePhi0(w io.Writer, p *estimate.Phi0Estimate) error {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, phi0Schema)
	defer b.Release()

	bins := p.Bins()
	phi := p.Normalized()
	xs := b.Field(0).(*array.Float64Builder)
	counts := b.Field(1).(*array.Int64Builder)
	vals := b.Field(2).(*array.Float64Builder)
	for i, c := range bins.Counts {
		xs.Append(bins.Center(i))
		counts.Append(c)
		vals.Append(phi[i])
	}

	return writeRecord(w, mem, phi0Schema, b)
}

// WriteHistory writes a stored run's per-iteration records.
func WriteHistory(w io.Writer, rows []store.IterationRecord) error {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, historySchema)
	defer b.Release()

	idx := b.Field(0).(*array.Int64Builder)
	tau := b.Field(1).(*array.Float64Builder)
	size := b.Field(2).(*array.Int64Builder)
	er := b.Field(3).(*array.Float64Builder)
	births := b.Field(4).(*array.Int64Builder)
	deaths := b.Field(5).(*array.Int64Builder)
	for _, r := range rows {
		idx.Append(int64(r.Index))
		tau.Append(r.Time)
		size.Append(int64(r.Size))
		er.Append(r.RefEnergy)
		births.Append(int64(r.Births))
		deaths.Append(int64(r.Deaths))
	}

	return writeRecord(w, mem, historySchema, b)
}

// WriteFile creates path and passes it to write.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func writeRecord(w io.Writer, mem memory.Allocator, schema *arrow.Schema, b *array.RecordBuilder) error {
	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("creating arrow writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	return fw.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func metaFloat(md arrow.Metadata, key string) (float64, error) {
	i := md.FindKey(key)
	if i < 0 {
		return 0, fmt.Errorf("missing metadata key %q", key)
	}
	v, err := strconv.ParseFloat(md.Values()[i], 64)
	if err != nil {
		return 0, fmt.Errorf("metadata %q: %w", key, err)
	}
	return v, nil
}
