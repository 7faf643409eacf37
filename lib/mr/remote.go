package mr

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"slices"
)

// maxMembers bounds the member list a remote split may carry
const maxMembers = 1 << 16

// remoteTask runs the members [Lo,Hi) of a job on Members[Lo]. It runs one
// priority above its caller. The reply carries the reduced result and the row
// counts of the output chunks written in that range.
type remoteTask struct {
	e *engineImpl

	JobID   string
	Dataset *Dataset
	Task    Task
	Members []string
	Lo, Hi  int
	Output  string

	Result Task
	Rows   []int64
}

func (t *remoteTask) TypeID() uint16 { return common.TypeIDMRRemote }

func (t *remoteTask) Write(ab *codec.AutoBuffer) {
	ab.PutStr(t.JobID)
	if t.Dataset != nil {
		ab.PutObj(t.Dataset)
	} else {
		ab.PutObj(nil)
	}
	ab.PutObj(t.Task)
	ab.PutInt(len(t.Members))
	for _, m := range t.Members {
		ab.PutStr(m)
	}
	ab.PutInt(t.Lo).PutInt(t.Hi).PutStr(t.Output)
	ab.PutObj(t.Result).PutA8(t.Rows)
}

func (t *remoteTask) Read(ab *codec.AutoBuffer) {
	reg := t.e.m.Types()
	t.JobID = ab.GetStr()
	t.Dataset, _ = ab.GetObj(reg).(*Dataset)
	t.Task, _ = ab.GetObj(reg).(Task)
	n := ab.GetInt()
	if n < 0 || n > maxMembers {
		n = 0
	}
	t.Members = nil
	for i := 0; i < n && ab.Err() == nil; i++ {
		t.Members = append(t.Members, ab.GetStr())
	}
	t.Lo = ab.GetInt()
	t.Hi = ab.GetInt()
	t.Output = ab.GetStr()
	t.Result, _ = ab.GetObj(reg).(Task)
	t.Rows = ab.GetA8()
}

func (t *remoteTask) Compute(ctx context.Context) error {
	e := t.e
	if t.Dataset == nil || t.Task == nil {
		return fmt.Errorf("job %s: request carries no dataset or task", t.JobID)
	}

	if t.Lo < 0 || t.Hi > len(t.Members) || t.Lo >= t.Hi {
		return fmt.Errorf("job %s: member range [%d,%d) out of bounds for %d members", t.JobID, t.Lo, t.Hi, len(t.Members))
	}

	j := &job{
		id:      t.JobID,
		ds:      t.Dataset,
		task:    t.Task,
		members: t.Members,
		self:    slices.Index(t.Members, e.m.Self().Addr()),
	}
	if j.self < t.Lo || j.self >= t.Hi {
		return fmt.Errorf("job %s: %s is not in member range [%d,%d)", t.JobID, e.m.Self(), t.Lo, t.Hi)
	}
	if t.Output != "" {
		j.out = &Dataset{Name: t.Output, Group: t.Dataset.Group}
	}

	p, err := e.runRange(ctx, j, t.Lo, t.Hi)
	if err != nil {
		return err
	}

	// the reply only carries the result
	t.Dataset, t.Task, t.Members = nil, nil, nil
	t.Result, t.Rows = p.task, p.rows
	return nil
}
