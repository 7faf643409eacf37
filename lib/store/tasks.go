package store

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dCloud/lib/sched"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/messenger"
	"github.com/ValentinKolb/dCloud/rpc/peer"
)

// registerTasks registers the value type and the coherence tasks. The factories
// bind decoded tasks to s.
func (s *storeImpl) registerTasks(reg *codec.Registry) {
	reg.Register(common.TypeIDValue, func() codec.Freezable { return &Value{} })
	reg.Register(common.TypeIDGetKey, func() codec.Freezable { return &getKeyTask{s: s} })
	reg.Register(common.TypeIDPutKey, func() codec.Freezable { return &putKeyTask{s: s} })
	reg.Register(common.TypeIDInvalidate, func() codec.Freezable { return &invalidateTask{s: s} })
}

// replyCode maps err to the return code shipped in a task reply
func replyCode(err error) (RetCode, string) {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code, storeErr.Msg
	}
	return RetCInternalError, err.Error()
}

// --------------------------------------------------------------------------
// Get
// --------------------------------------------------------------------------

// getKeyTask fetches a value from its home. A cacheable answer holds a pending
// read on the home's value until the caller acknowledged it, so no write can
// overtake the caller's copy.
type getKeyTask struct {
	s *storeImpl

	Key     string
	NoCache bool

	Code      RetCode
	Msg       string
	Cacheable bool
	Value     *Value

	locked *Value
}

func (t *getKeyTask) TypeID() uint16 { return common.TypeIDGetKey }

func (t *getKeyTask) Priority() int { return sched.PriorityGetKey(t.s.maxPriority()) }

func (t *getKeyTask) Write(ab *codec.AutoBuffer) {
	ab.PutStr(t.Key).PutBool(t.NoCache)
	ab.PutInt(int(t.Code)).PutStr(t.Msg).PutBool(t.Cacheable)
	ab.PutObj(t.Value.freezable())
}

func (t *getKeyTask) Read(ab *codec.AutoBuffer) {
	t.Key = ab.GetStr()
	t.NoCache = ab.GetBool()
	t.Code = RetCode(ab.GetInt())
	t.Msg = ab.GetStr()
	t.Cacheable = ab.GetBool()
	t.Value = getValue(ab, t.s.types())
}

func (t *getKeyTask) Compute(ctx context.Context) error {
	s := t.s
	k, err := s.keys.intern(t.Key)
	if err != nil {
		t.Code, t.Msg = replyCode(err)
		return nil
	}
	if !s.IsHome(k) {
		s.metrics.notHome.Inc()
		t.Code, t.Msg = RetCNotHome, s.selfAddr()+" is not home of "+k.String()
		return nil
	}

	v, ok := s.table.Load(t.Key)
	if !ok {
		return nil
	}
	v.touch()
	t.Value = v

	// a value that is being replaced is answered without handing out a copy
	caller, _ := messenger.CallerFrom(ctx)
	if !t.NoCache && caller != nil && caller != s.m.Self() && v.lockRead() {
		v.addReplica(caller.Handle())
		t.Cacheable = true
		t.locked = v
	}
	return nil
}

func (t *getKeyTask) OnAckAck() {
	if t.locked != nil {
		t.locked.unlockRead()
		t.locked = nil
	}
}

// --------------------------------------------------------------------------
// Put
// --------------------------------------------------------------------------

// putKeyTask ships a put to the home of its key
type putKeyTask struct {
	s *storeImpl

	Key      string
	Match    bool
	NoCache  bool
	Expected []byte
	Value    *Value

	Code    RetCode
	Msg     string
	Matched bool
	Prev    *Value
}

func (t *putKeyTask) TypeID() uint16 { return common.TypeIDPutKey }

func (t *putKeyTask) Priority() int { return sched.PriorityPutKey(t.s.maxPriority()) }

func (t *putKeyTask) Write(ab *codec.AutoBuffer) {
	ab.PutStr(t.Key).PutBool(t.Match).PutBool(t.NoCache).PutA1(t.Expected)
	ab.PutObj(t.Value.freezable())
	ab.PutInt(int(t.Code)).PutStr(t.Msg).PutBool(t.Matched)
	ab.PutObj(t.Prev.freezable())
}

func (t *putKeyTask) Read(ab *codec.AutoBuffer) {
	t.Key = ab.GetStr()
	t.Match = ab.GetBool()
	t.NoCache = ab.GetBool()
	t.Expected = ab.GetA1()
	t.Value = getValue(ab, t.s.types())
	t.Code = RetCode(ab.GetInt())
	t.Msg = ab.GetStr()
	t.Matched = ab.GetBool()
	t.Prev = getValue(ab, t.s.types())
}

func (t *putKeyTask) Compute(ctx context.Context) error {
	s := t.s
	v, opts := t.Value, putOptions{match: t.Match, expected: t.Expected}
	// the reply only carries the outcome
	t.Value, t.Expected = nil, nil

	k, err := s.keys.intern(t.Key)
	if err != nil {
		t.Code, t.Msg = replyCode(err)
		return nil
	}
	if !s.IsHome(k) {
		s.metrics.notHome.Inc()
		t.Code, t.Msg = RetCNotHome, s.selfAddr()+" is not home of "+k.String()
		return nil
	}
	if v != nil {
		v.installed.Store(true)
		if err := s.waitForMemory(ctx, v.size); err != nil {
			t.Code, t.Msg = replyCode(err)
			return nil
		}
	}

	var writer *peer.Peer
	if !t.NoCache {
		writer, _ = messenger.CallerFrom(ctx)
	}
	prev, matched, err := s.putHome(ctx, k, v, opts, writer)
	if err != nil {
		t.Code, t.Msg = replyCode(err)
		return nil
	}
	t.Prev, t.Matched = prev, matched
	return nil
}

// --------------------------------------------------------------------------
// Invalidate
// --------------------------------------------------------------------------

// invalidateTask drops the cached copy of a key on a replica holder
type invalidateTask struct {
	s   *storeImpl
	Key string
}

func (t *invalidateTask) TypeID() uint16 { return common.TypeIDInvalidate }

func (t *invalidateTask) Priority() int { return sched.PriorityInvalidate(t.s.maxPriority()) }

func (t *invalidateTask) Write(ab *codec.AutoBuffer) { ab.PutStr(t.Key) }

func (t *invalidateTask) Read(ab *codec.AutoBuffer) { t.Key = ab.GetStr() }

func (t *invalidateTask) Compute(ctx context.Context) error {
	s := t.s
	s.metrics.invalidationsReceived.Inc()
	// bumped before the copy is dropped, see getRemote
	s.invalidations.Add(1)

	if k, err := s.keys.intern(t.Key); err == nil && s.IsHome(k) {
		Logger.Warningf("Ignoring invalidation of %s, this node is its home", k)
		return nil
	}
	s.dropLocal(t.Key, nil)
	return nil
}
