package lease

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/config"
)

const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`
	renewScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`
)

// Redis elects one validator process per lease key. The holder owns the
// pending store file for its whole lifetime; standbys block in Lead until
// the key is released or expires.
type Redis struct {
	client rueidis.Client
	key    string
	ttl    time.Duration

	retryEvery time.Duration
	renewEvery time.Duration
}

// NewRedisClient connects to the configured Redis server.
func NewRedisClient(cfg *config.RedisEnvConfig) (rueidis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)},
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		SelectDB:    cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewRedis(client rueidis.Client, key string, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if key == "" {
		return nil, fmt.Errorf("lease key is required")
	}
	if ttl < time.Second {
		return nil, fmt.Errorf("lease ttl %s is too short", ttl)
	}
	return &Redis{
		client:     client,
		key:        key,
		ttl:        ttl,
		retryEvery: time.Second,
		renewEvery: ttl / 3,
	}, nil
}

// Leadership is a held Redis lease. It is renewed in the background until
// Release is called or renewal stops succeeding.
type Leadership struct {
	lost     chan struct{}
	lostOnce sync.Once
	release  func()
}

// Lost is closed when the key expired or was taken by another holder. The
// store must not be written after that.
func (l *Leadership) Lost() <-chan struct{} { return l.lost }

// Release stops renewal and deletes the key if it is still ours. It is
// idempotent.
func (l *Leadership) Release() { l.release() }

func (l *Leadership) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// Lead blocks until the lease is taken or ctx is done.
func (r *Redis) Lead(ctx context.Context) (*Leadership, error) {
	token := uuid.NewString()
	for {
		ok, err := r.tryAcquire(ctx, token)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrLeaseHeld, ctx.Err())
		case <-time.After(r.retryEvery):
		}
	}
	log.Info().Str("key", r.key).Dur("ttl", r.ttl).Msg("acquired leader lease")

	renewCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l := &Leadership{lost: make(chan struct{})}
	go r.renew(renewCtx, token, l, done)

	var once sync.Once
	l.release = func() {
		once.Do(func() {
			cancel()
			<-done
			releaseCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if _, err := r.eval(releaseCtx, releaseScript, token); err != nil {
				log.Error().Err(err).Str("key", r.key).Msg("failed to release leader lease")
				return
			}
			log.Info().Str("key", r.key).Msg("released leader lease")
		})
	}
	return l, nil
}

func (r *Redis) tryAcquire(ctx context.Context, token string) (bool, error) {
	cmd := r.client.B().Set().Key(r.key).Value(token).Nx().PxMilliseconds(r.ttl.Milliseconds()).Build()
	err := r.client.Do(ctx, cmd).Error()
	switch {
	case err == nil:
		return true, nil
	case rueidis.IsRedisNil(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to set lease key %s: %w", r.key, err)
	}
}

func (r *Redis) eval(ctx context.Context, script string, args ...string) (int64, error) {
	cmd := r.client.B().Eval().Script(script).Numkeys(1).Key(r.key).Arg(args...).Build()
	return r.client.Do(ctx, cmd).AsInt64()
}

// renew extends the key every renewEvery. Leadership is lost when the key no
// longer holds our token, or one renewal interval before the key would expire
// without a successful renewal.
func (r *Redis) renew(ctx context.Context, token string, l *Leadership, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(r.renewEvery)
	defer t.Stop()

	ms := strconv.FormatInt(r.ttl.Milliseconds(), 10)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.eval(ctx, renewScript, token, ms)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				log.Error().Err(err).Str("key", r.key).Msg("failed to renew leader lease")
				if time.Since(last) >= r.ttl-r.renewEvery {
					log.Error().Str("key", r.key).Msg("leader lease about to expire without renewal")
					l.markLost()
					return
				}
			case n == 0:
				log.Error().Str("key", r.key).Msg("leader lease taken by another holder")
				l.markLost()
				return
			default:
				last = time.Now()
			}
		}
	}
}
