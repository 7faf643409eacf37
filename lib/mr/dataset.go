package mr

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/store"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
)

// --------------------------------------------------------------------------
// Dataset
// --------------------------------------------------------------------------

// Dataset is the header of a partitioned dataset. It is stored under the vec key
// of the dataset, its chunks under the chunk keys of that vec key. Datasets with
// the same group have their chunks on the same nodes.
type Dataset struct {
	Name  string
	Group uint32
	// Rows holds the row count of every chunk
	Rows []int64
}

func (d *Dataset) TypeID() uint16 { return common.TypeIDDataset }

func (d *Dataset) Write(ab *codec.AutoBuffer) {
	ab.PutStr(d.Name).Put4(d.Group).PutA8(d.Rows)
}

func (d *Dataset) Read(ab *codec.AutoBuffer) {
	d.Name = ab.GetStr()
	d.Group = ab.Get4()
	d.Rows = ab.GetA8()
}

// Chunks returns the number of chunks
func (d *Dataset) Chunks() int {
	return len(d.Rows)
}

// TotalRows returns the sum of the row counts
func (d *Dataset) TotalRows() int64 {
	var n int64
	for _, r := range d.Rows {
		n += r
	}
	return n
}

// VecKey returns the key the header is stored under
func (d *Dataset) VecKey(s store.IStore) *store.Key {
	return s.VecKey(d.Group, d.Name)
}

func (d *Dataset) String() string {
	return fmt.Sprintf("%s (group %d, %d chunks, %d rows)", d.Name, d.Group, d.Chunks(), d.TotalRows())
}

// --------------------------------------------------------------------------
// Chunk
// --------------------------------------------------------------------------

// Chunk is one partition of a dataset: an int64 and a float64 column. Both
// columns are zero-run compressed on the wire.
type Chunk struct {
	Index  int
	Ints   []int64
	Floats []float64
}

func (c *Chunk) TypeID() uint16 { return common.TypeIDChunk }

func (c *Chunk) Write(ab *codec.AutoBuffer) {
	ab.PutInt(c.Index).PutA8(c.Ints).PutA8d(c.Floats)
}

func (c *Chunk) Read(ab *codec.AutoBuffer) {
	c.Index = ab.GetInt()
	c.Ints = ab.GetA8()
	c.Floats = ab.GetA8d()
}

// Rows returns the number of rows, the length of the longer column
func (c *Chunk) Rows() int {
	return max(len(c.Ints), len(c.Floats))
}

// --------------------------------------------------------------------------
// Store Helper
// --------------------------------------------------------------------------

// PutDataset stores chunks as the dataset name of group. Chunk i is stored under
// chunk key i, its Index is set accordingly. The header is published last.
func PutDataset(ctx context.Context, s store.IStore, name string, group uint32, chunks []*Chunk) (*Dataset, error) {
	ds := &Dataset{Name: name, Group: group, Rows: make([]int64, len(chunks))}
	vec := ds.VecKey(s)

	futures := make([]*store.PutFuture, len(chunks))
	for i, c := range chunks {
		c.Index = i
		ds.Rows[i] = int64(c.Rows())
		futures[i] = s.PutAsync(ctx, s.ChunkKey(vec, i), store.NewObjectValue(c))
	}
	for i, f := range futures {
		if _, err := f.Await(ctx); err != nil {
			return nil, fmt.Errorf("storing chunk %d of %s: %w", i, name, err)
		}
	}

	if _, err := s.Put(ctx, vec, store.NewObjectValue(ds)); err != nil {
		return nil, fmt.Errorf("storing header of %s: %w", name, err)
	}
	return ds, nil
}

// LoadDataset loads the header of the dataset name of group
func LoadDataset(ctx context.Context, s store.IStore, types *codec.Registry, name string, group uint32) (*Dataset, error) {
	v, err := s.Get(ctx, s.VecKey(group, name))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("dataset %s (group %d) does not exist", name, group)
	}
	obj, err := v.Object(types)
	if err != nil {
		return nil, fmt.Errorf("decoding header of %s: %w", name, err)
	}
	ds, ok := obj.(*Dataset)
	if !ok {
		return nil, fmt.Errorf("value of %s is not a dataset header", name)
	}
	return ds, nil
}

// LoadChunk loads chunk cidx of ds
func LoadChunk(ctx context.Context, s store.IStore, types *codec.Registry, ds *Dataset, cidx int) (*Chunk, error) {
	v, err := s.Get(ctx, s.ChunkKey(ds.VecKey(s), cidx))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("chunk %d of %s is missing", cidx, ds.Name)
	}
	obj, err := v.Object(types)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %d of %s: %w", cidx, ds.Name, err)
	}
	c, ok := obj.(*Chunk)
	if !ok {
		return nil, fmt.Errorf("value of chunk %d of %s is not a chunk", cidx, ds.Name)
	}
	return c, nil
}
