package dlock

import (
	"context"
	"errors"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/connector"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/xerrors"
)

const (
	opLock   = "lock"
	opUnlock = "unlock"
	opLost   = "lost"
)

type etcdLocker struct {
	client *clientv3.Client
	cfg    *Config
	logger clog.Logger
	ops    metrics.Counter

	mu     sync.Mutex
	locks  map[string]*etcdLockEntry
	closed bool
}

type etcdLockEntry struct {
	mutex   *concurrency.Mutex
	session *concurrency.Session
}

func newEtcd(conn connector.EtcdConnector, cfg *Config, opt *options) (Locker, error) {
	client := conn.GetClient()
	if client == nil {
		return nil, ErrConnectorNil
	}
	ops, err := opt.meter.Counter("kongsync_dlock_operations_total", "分布式锁操作次数")
	if err != nil {
		return nil, xerrors.Wrap(err, "create dlock counter")
	}
	return &etcdLocker{
		client: client,
		cfg:    cfg,
		logger: opt.logger,
		ops:    ops,
		locks:  make(map[string]*etcdLockEntry),
	}, nil
}

func (l *etcdLocker) Lock(ctx context.Context, key string, opts ...LockOption) error {
	return l.lock(ctx, key, false, opts...)
}

func (l *etcdLocker) TryLock(ctx context.Context, key string, opts ...LockOption) (bool, error) {
	err := l.lock(ctx, key, true, opts...)
	if errors.Is(err, concurrency.ErrLocked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *etcdLocker) lock(ctx context.Context, key string, try bool, opts ...LockOption) (err error) {
	if key == "" {
		return ErrKeyEmpty
	}
	defer func() {
		if !errors.Is(err, concurrency.ErrLocked) {
			l.record(ctx, opLock, err)
		}
	}()

	// 检查本地是否已持有锁（防止同一 locker 重复获取同一把锁）
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if _, exists := l.locks[key]; exists {
		l.mu.Unlock()
		return xerrors.Wrapf(ErrLockAlreadyHeld, "key: %s", key)
	}
	l.mu.Unlock()

	o := &lockOptions{TTL: l.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(o)
	}
	ttl := max(int(o.TTL/time.Second), 1)

	// 每把锁独立 Session，Session 失效只影响这一把锁
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(ttl))
	if err != nil {
		return xerrors.Wrap(err, "failed to create etcd session")
	}

	mutex := concurrency.NewMutex(session, l.cfg.Prefix+key)
	if try {
		err = mutex.TryLock(ctx)
	} else {
		err = mutex.Lock(ctx)
	}
	if err != nil {
		_ = session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return concurrency.ErrLocked
		}
		return xerrors.Wrap(err, "failed to lock")
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = mutex.Unlock(context.Background())
		_ = session.Close()
		return ErrClosed
	}
	l.locks[key] = &etcdLockEntry{mutex: mutex, session: session}
	l.mu.Unlock()

	go l.watchSession(key, session)

	l.logger.InfoContext(ctx, "lock acquired", clog.String("key", key), clog.Int("ttl_seconds", ttl))
	return nil
}

// watchSession Session 失效时移除本地记录
func (l *etcdLocker) watchSession(key string, session *concurrency.Session) {
	<-session.Done()

	l.mu.Lock()
	entry, ok := l.locks[key]
	lost := ok && entry.session == session
	if lost {
		delete(l.locks, key)
	}
	l.mu.Unlock()

	if lost {
		l.record(context.Background(), opLost, nil)
		l.logger.Warn("lock lost, etcd session expired", clog.String("key", key))
	}
}

func (l *etcdLocker) Unlock(ctx context.Context, key string) (err error) {
	l.mu.Lock()
	entry, exists := l.locks[key]
	if !exists {
		l.mu.Unlock()
		return xerrors.Wrapf(ErrLockNotHeld, "key: %s", key)
	}
	delete(l.locks, key)
	l.mu.Unlock()

	defer func() { l.record(ctx, opUnlock, err) }()
	return l.release(ctx, key, entry)
}

func (l *etcdLocker) release(ctx context.Context, key string, entry *etcdLockEntry) error {
	unlockErr := entry.mutex.Unlock(ctx)
	// 关闭 Session 会撤销租约，即使 Unlock 失败锁也会释放
	closeErr := entry.session.Close()
	if unlockErr != nil {
		return xerrors.Wrapf(unlockErr, "failed to unlock %s", key)
	}
	if closeErr != nil {
		return xerrors.Wrapf(closeErr, "failed to close session of %s", key)
	}
	l.logger.InfoContext(ctx, "lock released", clog.String("key", key))
	return nil
}

func (l *etcdLocker) Done(key string) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.locks[key]; ok {
		return entry.session.Done()
	}
	return nil
}

// Close 释放所有本地持有的锁，可重复调用
func (l *etcdLocker) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	held := l.locks
	l.locks = make(map[string]*etcdLockEntry)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for key, entry := range held {
		if err := l.release(ctx, key, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return xerrors.Combine(errs...)
}

func (l *etcdLocker) record(ctx context.Context, op string, err error) {
	l.ops.Inc(ctx, metrics.L(metrics.LabelOperation, op), metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
}
