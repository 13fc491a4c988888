package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/arloliu/segpool"
	"github.com/arloliu/segpool/tokenstore"
	"github.com/arloliu/segpool/tokenstore/etcdstore"
	"github.com/arloliu/segpool/tokenstore/natskv"
	"github.com/arloliu/segpool/tokenstore/redisstore"
)

const dialTimeout = 5 * time.Second

// env holds the connections a command opened. Close releases all of them.
type env struct {
	store   segpool.TokenStore
	nc      *nats.Conn
	js      jetstream.JetStream
	closers []func()
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// jetStream connects to NATS on first use.
func (e *env) jetStream(o *RootOptions) (jetstream.JetStream, error) {
	if e.js != nil {
		return e.js, nil
	}

	nc, err := nats.Connect(o.str(flagNATSURL), nats.Timeout(dialTimeout), nats.Name("segpool"))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "connect to NATS", err)
	}
	e.closers = append(e.closers, nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "create JetStream context", err)
	}
	e.nc, e.js = nc, js

	return js, nil
}

// openEnv connects to the token store selected by --backend.
//
// TokenStore settings of cfg are used where the corresponding flag was not
// set explicitly.
func openEnv(ctx context.Context, o *RootOptions, cfg *segpool.TokenStoreConfig) (*env, error) {
	e := &env{}

	backend := o.str(flagBackend)
	bucket := o.str(flagBucket)
	prefix := o.str(flagPrefix)
	if cfg != nil {
		if !o.v.IsSet(flagBackend) && cfg.Backend != "" {
			backend = cfg.Backend
		}
		if !o.v.IsSet(flagBucket) && cfg.Bucket != "" {
			bucket = cfg.Bucket
		}
		if !o.v.IsSet(flagPrefix) && cfg.Prefix != "" {
			prefix = cfg.Prefix
		}
	}

	storeOpts := []tokenstore.Option{tokenstore.WithLogger(o.Logger())}
	if owner := o.str(flagOwner); owner != "" {
		storeOpts = append(storeOpts, tokenstore.WithOwner(owner))
	}

	switch backend {
	case BackendNATSKV:
		js, err := e.jetStream(o)
		if err != nil {
			e.Close()
			return nil, err
		}
		store, err := natskv.Open(ctx, js, bucket, storeOpts...)
		if err != nil {
			e.Close()
			return nil, WrapExitError(ExitCommandError, "open token bucket", err)
		}
		e.store = store

	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: o.str(flagRedisAddr), DialTimeout: dialTimeout})
		e.closers = append(e.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			e.Close()
			return nil, WrapExitError(ExitCommandError, "connect to redis", err)
		}
		e.store = redisstore.NewWithPrefix(rdb, prefix, storeOpts...)

	case BackendEtcd:
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   o.v.GetStringSlice(flagEtcd),
			DialTimeout: dialTimeout,
		})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "connect to etcd", err)
		}
		e.closers = append(e.closers, func() { _ = client.Close() })
		e.store = etcdstore.NewWithPrefix(client, prefix, storeOpts...)

	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown backend %q", backend))
	}

	return e, nil
}

// loadConfig reads --config, or returns the defaults with --processor applied.
func loadConfig(o *RootOptions) (segpool.Config, error) {
	var (
		cfg segpool.Config
		err error
	)
	if path := o.str(flagConfig); path != "" {
		cfg, err = segpool.LoadConfig(path)
		if err != nil {
			return cfg, WrapExitError(ExitCommandError, "load config", err)
		}
	} else {
		cfg = segpool.DefaultConfig()
	}

	if name := o.str(flagProcessor); name != "" {
		cfg.ProcessorName = name
	}
	if cfg.ProcessorName == "" {
		return cfg, NewExitError(ExitCommandError, "--processor or processorName in --config is required")
	}

	return cfg, nil
}
