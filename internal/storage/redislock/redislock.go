// Package redislock provides a Redis backed authority.Locker so that several
// authority instances serialize redemptions of the same code.
package redislock

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/pos-referral/internal/authority"
)

const keyPrefix = "referral:lock:"

var _ authority.Locker = (*Locker)(nil)

// Locker obtains short-lived Redis locks per key.
type Locker struct {
	cli      *redislock.Client
	ttl      time.Duration
	strategy redislock.RetryStrategy
}

// New returns a Locker holding each lock for at most ttl.
func New(cli redis.Scripter, ttl time.Duration) *Locker {
	return &Locker{
		cli: redislock.New(cli),
		ttl: ttl,
		// Fixed step retry, at most 30 times.
		strategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 30),
	}
}

// Lock implements authority.Locker.
func (l *Locker) Lock(ctx context.Context, key string) (authority.Unlock, error) {
	lock, err := l.cli.Obtain(ctx, keyPrefix+key, l.ttl, &redislock.Options{RetryStrategy: l.strategy})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, authority.ErrLockNotObtained
		}
		return nil, errors.Wrapf(err, "obtain lock %q", key)
	}

	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return errors.Wrapf(err, "release lock %q", key)
		}
		return nil
	}, nil
}
