/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	// Prefix is prepended to every key. Defaults to "tierbox:".
	Prefix string

	// Channel carries ledger updates between server instances. Defaults to
	// "tierbox:live-table".
	Channel string
}

// Redis stores documents as plain string values and doubles as a pub/sub bus
// so several store instances can fan updates out to their own subscribers.
type Redis struct {
	rdb     *goredis.Client
	prefix  string
	channel string
}

// OpenRedis connects to addr, which is either host:port or a redis:// URL.
func OpenRedis(ctx context.Context, addr string, opts RedisOptions) (*Redis, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("storage: redis address is required")
	}

	var options *goredis.Options
	if strings.Contains(addr, "://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		options = parsed
	} else {
		options = &goredis.Options{Addr: addr}
	}
	options.DialTimeout = 5 * time.Second

	if opts.Prefix == "" {
		opts.Prefix = "tierbox:"
	}
	if opts.Channel == "" {
		opts.Channel = "tierbox:live-table"
	}

	rdb := goredis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{
		rdb:     rdb,
		prefix:  opts.Prefix,
		channel: opts.Channel,
	}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}

	return data, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}

	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}

	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Publish sends payload to every subscriber of the update channel.
func (r *Redis) Publish(ctx context.Context, payload []byte) error {
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

// Subscribe calls fn for every payload published on the update channel until
// ctx is cancelled.
func (r *Redis) Subscribe(ctx context.Context, fn func([]byte)) error {
	if fn == nil {
		return errors.New("storage: subscribe callback required")
	}

	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before forwarding.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn([]byte(msg.Payload))
		}
	}
}
