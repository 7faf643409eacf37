package mr

import (
	"context"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
)

// --------------------------------------------------------------------------
// Sum
// --------------------------------------------------------------------------

// SumTask sums both columns of a dataset and counts its rows
type SumTask struct {
	Sum      int64
	FloatSum float64
	Rows     int64
}

func (t *SumTask) TypeID() uint16 { return common.TypeIDMRSum }

func (t *SumTask) Write(ab *codec.AutoBuffer) {
	ab.Put8(uint64(t.Sum)).PutF8(t.FloatSum).Put8(uint64(t.Rows))
}

func (t *SumTask) Read(ab *codec.AutoBuffer) {
	t.Sum = int64(ab.Get8())
	t.FloatSum = ab.GetF8()
	t.Rows = int64(ab.Get8())
}

func (t *SumTask) Map(ctx context.Context, in *Chunk, out *Chunk) error {
	for _, v := range in.Ints {
		t.Sum += v
	}
	for _, v := range in.Floats {
		t.FloatSum += v
	}
	t.Rows += int64(in.Rows())
	return nil
}

func (t *SumTask) Reduce(other Task) {
	o := other.(*SumTask)
	t.Sum += o.Sum
	t.FloatSum += o.FloatSum
	t.Rows += o.Rows
}

func (t *SumTask) Clone() Task { return &SumTask{} }

// --------------------------------------------------------------------------
// Scale
// --------------------------------------------------------------------------

// ScaleTask multiplies the int column by Factor. With an output the scaled
// column is written, the result is the sum of the scaled values.
type ScaleTask struct {
	Factor int64
	Sum    int64
}

func (t *ScaleTask) TypeID() uint16 { return common.TypeIDMRScale }

func (t *ScaleTask) Write(ab *codec.AutoBuffer) {
	ab.Put8(uint64(t.Factor)).Put8(uint64(t.Sum))
}

func (t *ScaleTask) Read(ab *codec.AutoBuffer) {
	t.Factor = int64(ab.Get8())
	t.Sum = int64(ab.Get8())
}

func (t *ScaleTask) Map(ctx context.Context, in *Chunk, out *Chunk) error {
	var scaled []int64
	if out != nil {
		scaled = make([]int64, len(in.Ints))
		out.Ints = scaled
	}
	for i, v := range in.Ints {
		s := v * t.Factor
		t.Sum += s
		if scaled != nil {
			scaled[i] = s
		}
	}
	return nil
}

func (t *ScaleTask) Reduce(other Task) {
	t.Sum += other.(*ScaleTask).Sum
}

func (t *ScaleTask) Clone() Task { return &ScaleTask{Factor: t.Factor} }
