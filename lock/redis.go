package lock

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/stampede/log"
	"github.com/unkn0wn-root/stampede/provider"
)

// GET + DEL must be one step, otherwise the lease can expire and be
// re-granted between the comparison and the delete.
var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
end
return 0
`)

// RedisLocker grants leases with SET NX PX. Tokens are a per-process UUID
// plus a per-acquisition sequence, unique across processes and goroutines.
type RedisLocker struct {
	rdb   redis.UniversalClient
	owner string
	seq   atomic.Uint64
	log   log.Logger
}

var _ Locker = (*RedisLocker)(nil)

func NewRedis(client redis.UniversalClient, logger log.Logger) *RedisLocker {
	return &RedisLocker{rdb: client, owner: uuid.NewString(), log: log.OrNop(logger)}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	key := KeyPrefix + name
	token := l.owner + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(provider.Unavailable(err), "lock: acquire %s", key)
	}
	if !ok {
		return nil, ErrBusy
	}

	lease := &Lease{Name: name, Token: token, TTL: ttl}
	lease.release = func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int64()
		if err != nil {
			l.log.Warn("lock release failed", log.Fields{"lock": key, "err": err})
			return errors.Wrapf(provider.Unavailable(err), "lock: release %s", key)
		}
		if n == 0 {
			l.log.Warn("lock released after expiry", log.Fields{"lock": key, "ttl": ttl.String()})
			return ErrNotOwner
		}
		return nil
	}
	return lease, nil
}
