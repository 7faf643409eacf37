package lockmgr

import (
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/google/uuid"
	"time"
)

// Lease is the value stored under a lock key
type Lease struct {
	Owner []byte
	// Expires is the expiry in unix nanos, 0 never expires
	Expires int64
}

func (l *Lease) TypeID() uint16 { return common.TypeIDLease }

func (l *Lease) Write(ab *codec.AutoBuffer) {
	ab.PutA1(l.Owner).Put8(uint64(l.Expires))
}

func (l *Lease) Read(ab *codec.AutoBuffer) {
	l.Owner = ab.GetA1()
	l.Expires = int64(ab.Get8())
}

// Expired returns true if the lease ran out at now
func (l *Lease) Expired(now time.Time) bool {
	return l.Expires != 0 && now.UnixNano() >= l.Expires
}

// newOwnerID creates a new unique owner ID
func newOwnerID() []byte {
	id := uuid.New()
	return id[:]
}
