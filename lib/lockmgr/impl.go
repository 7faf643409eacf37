package lockmgr

import (
	"bytes"
	"context"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/store"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

var Logger = logger.GetLogger("lockmgr")

// maxAttempts bounds the compare-and-swap rounds of a single operation
const maxAttempts = 8

type lockMgrImpl struct {
	store store.IStore
	types *codec.Registry
}

// NewLockManager creates a lock manager on top of s. The lease type is registered
// in types if it is not yet.
func NewLockManager(s store.IStore, types *codec.Registry) ILockManager {
	if !types.IsRegistered(common.TypeIDLease) {
		types.Register(common.TypeIDLease, func() codec.Freezable { return &Lease{} })
	}
	return &lockMgrImpl{
		store: s,
		types: types,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ILockManager)
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) AcquireLock(ctx context.Context, key string, timeout time.Duration) (bool, []byte, error) {
	k := lm.lockKey(key)
	lease := &Lease{Owner: newOwnerID()}
	if timeout > 0 {
		lease.Expires = time.Now().Add(timeout).UnixNano()
	}

	cur, err := lm.store.Get(ctx, k)
	if err != nil {
		return false, nil, err
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Try to acquire the lock if it is free or expired (atomic CAS operation)
		var expected []byte
		if cur != nil {
			held, err := lm.lease(cur)
			if err != nil {
				return false, nil, err
			}
			if !held.Expired(time.Now()) {
				return false, nil, nil
			}
			expected = cur.Bytes()
			Logger.Debugf("Taking over expired lock %q", key)
		}

		var ok bool
		cur, ok, err = lm.store.PutIfMatch(ctx, k, store.NewObjectValue(lease), expected)
		if err != nil {
			return false, nil, err
		}
		if ok {
			return true, lease.Owner, nil
		}
	}
	return false, nil, nil
}

func (lm *lockMgrImpl) ReleaseLock(ctx context.Context, key string, ownerID []byte) (bool, error) {
	k := lm.lockKey(key)

	cur, err := lm.store.Get(ctx, k)
	if err != nil {
		return false, err
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Check if the lock exists
		if cur == nil {
			return true, nil
		}
		// Check if the lock is owned by us
		held, err := lm.lease(cur)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(held.Owner, ownerID) {
			return false, nil
		}

		// Release the lock
		var ok bool
		cur, ok, err = lm.store.PutIfMatch(ctx, k, nil, cur.Bytes())
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) lockKey(key string) *store.Key {
	return lm.store.SystemKey("lock/"+key, 1)
}

func (lm *lockMgrImpl) lease(v *store.Value) (*Lease, error) {
	obj, err := v.Object(lm.types)
	if err != nil {
		return nil, fmt.Errorf("decoding lease: %w", err)
	}
	lease, ok := obj.(*Lease)
	if !ok {
		return nil, fmt.Errorf("lock value has type %d, not a lease", v.Type())
	}
	return lease, nil
}
