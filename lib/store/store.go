package store

import (
	"context"
	"github.com/ValentinKolb/dCloud/lib/membership"
	"github.com/ValentinKolb/dCloud/lib/persist"
	"github.com/ValentinKolb/dCloud/lib/sched"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/messenger"
	"github.com/ValentinKolb/dCloud/rpc/peer"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("store")

// maxHomeRetries bounds how often an operation is re-routed after the receiver
// reported that it is not the home of the key
const maxHomeRetries = 5

type storeImpl struct {
	config     common.StoreConfig
	m          messenger.IMessenger
	members    membership.IProvider
	backend    persist.IBackend
	clientMode bool

	keys    *interner
	table   *xsync.MapOf[string, *Value]
	pending *xsync.MapOf[string, *PutFuture]

	// bumped by every received invalidation, a get only caches its answer if no
	// invalidation arrived while it was in flight
	invalidations atomic.Uint64
	// payload bytes of resident values in the table
	memory atomic.Int64

	metrics *storeMetrics

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates the store of a node and registers its coherence tasks in the
// messenger's type registry. The messenger must be started before the store is
// used. Client mode stores never become home of a key and never cache values.
// Metrics are registered in set and stats (both may be nil).
func NewStore(
	config common.StoreConfig,
	m messenger.IMessenger,
	members membership.IProvider,
	backend persist.IBackend,
	clientMode bool,
	set *metrics.Set,
	stats gometrics.Registry,
) IStore {
	if config.CleanerInterval <= 0 {
		config.CleanerInterval = common.DefaultCleanerInterval
	}
	if backend == nil {
		backend = persist.NewMemoryBackend()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &storeImpl{
		config:     config,
		m:          m,
		members:    members,
		backend:    backend,
		clientMode: clientMode,
		keys:       newInterner(),
		table:      xsync.NewMapOf[string, *Value](),
		pending:    xsync.NewMapOf[string, *PutFuture](),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.metrics = newStoreMetrics(set, stats, s)
	s.registerTasks(m.Types())

	s.wg.Add(1)
	go s.cleanerLoop()
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IStore)
// --------------------------------------------------------------------------

func (s *storeImpl) Key(name string) *Key {
	return s.keys.mustIntern(userKeyBytes(name))
}

func (s *storeImpl) SystemKey(name string, repl byte, homes ...string) *Key {
	return s.keys.mustIntern(systemKeyBytes(name, repl, homes))
}

func (s *storeImpl) VecKey(group uint32, name string) *Key {
	return s.keys.mustIntern(vecKeyBytes(group, name))
}

func (s *storeImpl) ChunkKey(vec *Key, cidx int) *Key {
	if vec.typ != KeyVec {
		panic("store: ChunkKey of a " + vec.typ.String() + " key")
	}
	return s.keys.mustIntern(chunkKeyBytes(vec, cidx))
}

func (s *storeImpl) KeyFromBytes(raw []byte) (*Key, error) {
	return s.keys.intern(string(raw))
}

func (s *storeImpl) Put(ctx context.Context, k *Key, v *Value) (*Value, error) {
	return s.PutAsync(ctx, k, v).Await(ctx)
}

func (s *storeImpl) PutAsync(ctx context.Context, k *Key, v *Value) *PutFuture {
	return s.startPut(ctx, k, v, putOptions{})
}

func (s *storeImpl) PutIfMatch(ctx context.Context, k *Key, v *Value, expected []byte) (*Value, bool, error) {
	return s.startPut(ctx, k, v, putOptions{match: true, expected: expected}).AwaitMatch(ctx)
}

func (s *storeImpl) Remove(ctx context.Context, k *Key) (*Value, error) {
	return s.Put(ctx, k, nil)
}

func (s *storeImpl) Get(ctx context.Context, k *Key) (*Value, error) {
	s.metrics.gets.Inc()

	// a pending write of this node takes precedence
	if f, ok := s.pending.Load(k.raw); ok && !f.opts.match {
		s.metrics.hits.Inc()
		return f.value, nil
	}
	if v, ok := s.table.Load(k.raw); ok {
		s.metrics.hits.Inc()
		v.touch()
		return v, nil
	}
	if s.IsHome(k) {
		return nil, nil
	}
	return s.getRemote(ctx, k)
}

func (s *storeImpl) HomeOf(k *Key) string {
	members, generation := s.view()
	if i, _ := homeIndex(k, members, generation, s.selfAddr()); i >= 0 {
		return members[i]
	}
	return ""
}

func (s *storeImpl) IsHome(k *Key) bool {
	return !s.clientMode && s.ReplicaIndex(k) == 0
}

func (s *storeImpl) ReplicaIndex(k *Key) int {
	members, generation := s.view()
	_, replica := homeIndex(k, members, generation, s.selfAddr())
	return replica
}

func (s *storeImpl) LocalKeys(homeOnly bool) []*Key {
	var keys []*Key
	s.table.Range(func(raw string, _ *Value) bool {
		k := s.keys.mustIntern(raw)
		if !homeOnly || s.IsHome(k) {
			keys = append(keys, k)
		}
		return true
	})
	return keys
}

func (s *storeImpl) Stats() Stats {
	stats := Stats{
		MemoryBytes: s.memory.Load(),
		MemoryLimit: s.config.MemoryLimit,
	}
	s.table.Range(func(raw string, v *Value) bool {
		stats.Keys++
		if s.IsHome(s.keys.mustIntern(raw)) {
			stats.HomeKeys++
		} else {
			stats.Replicas++
		}
		if v.isSpilled() {
			stats.Spilled++
		}
		return true
	})
	return stats
}

func (s *storeImpl) Close() {
	s.cancel()
	s.wg.Wait()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// view returns the current member list and its generation. A member node without
// configured members is a cloud of its own.
func (s *storeImpl) view() ([]string, uint64) {
	members := s.members.Members()
	if len(members) == 0 && !s.clientMode {
		return []string{s.selfAddr()}, s.members.Generation()
	}
	return members, s.members.Generation()
}

func (s *storeImpl) selfAddr() string {
	return s.m.Self().Addr()
}

// homePeer returns the peer that is home of k
func (s *storeImpl) homePeer(k *Key) (*peer.Peer, error) {
	addr := s.HomeOf(k)
	if addr == "" {
		return nil, NewError(RetCNoMembers, "no member can be home of "+k.String())
	}
	return s.m.Peers().Intern(addr), nil
}

// maxPriority returns the highest priority of the node's scheduler
func (s *storeImpl) maxPriority() int {
	return s.m.Scheduler().MaxPriority()
}

// types returns the node's type registry
func (s *storeImpl) types() *codec.Registry {
	return s.m.Types()
}

// managedWait blocks in a managed block at the priority of ctx until cond holds
// or ctx is done
func (s *storeImpl) managedWait(ctx context.Context, cond func() bool) error {
	if cond() {
		return nil
	}
	var err error
	s.m.Scheduler().ManagedBlock(sched.PriorityFrom(ctx), func() {
		err = pollUntil(ctx, cond)
	})
	return err
}
