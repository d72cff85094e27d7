// Package session hosts one book collection per signed-in user. A user's
// Synchronizer is created and loaded on sign-in, follows store changes while
// the session lives, and is cleared on sign-out or after the session idles out.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/library"
	"bookshelf/internal/models"
)

// Source is the repository a session loads from and subscribes to
type Source interface {
	library.Repository
	Subscribe(ctx context.Context, ownerID string) (<-chan []models.Book, error)
}

type session struct {
	uid     string
	library *library.Synchronizer
	ctx     context.Context
	cancel  context.CancelFunc

	watching atomic.Bool
}

func (s *session) end() {
	s.cancel()
	s.library.Clear()
}

// Registry maps user ids to their live collections
type Registry struct {
	source Source
	logger *zap.Logger
	opts   []library.Option

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions *ttlcache.Cache[string, *session]
}

// NewRegistry creates a registry whose sessions end after ttl without use
func NewRegistry(source Source, ttl time.Duration, logger *zap.Logger, opts ...library.Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	sessions := ttlcache.New[string, *session](
		ttlcache.WithTTL[string, *session](ttl),
	)
	sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *session]) {
		if reason == ttlcache.EvictionReasonExpired {
			logger.Info("Session expired", zap.String("uid", item.Key()))
		}
		item.Value().end()
	})
	go sessions.Start()

	return &Registry{
		source:   source,
		logger:   logger,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: sessions,
	}
}

// SignIn opens or resumes the session of uid and loads its books
func (r *Registry) SignIn(ctx context.Context, uid string) (*library.Synchronizer, error) {
	if uid == "" {
		return nil, domainerrors.Unauthorized("missing user id")
	}

	sess, created := r.session(uid)
	lib := sess.library

	var err error
	if state := lib.State(); created || state == library.StateEmpty || state == library.StateError {
		err = lib.Load(ctx, uid)
		if errors.Is(err, library.ErrLoadSuperseded) {
			err = nil
		}
	}

	if created {
		r.logger.Info("User signed in", zap.String("uid", uid), zap.Int("books", len(lib.Books())))
	}
	// Follow changes even when the load failed
	if !sess.watching.Load() {
		r.watch(sess)
	}
	return lib, err
}

// Acquire returns the collection of uid, signing in when there is no session.
// A collection that has loaded once is returned as is, even after a failed
// refresh, so its last list stays readable.
func (r *Registry) Acquire(ctx context.Context, uid string) (*library.Synchronizer, error) {
	if item := r.sessions.Get(uid); item != nil {
		sess := item.Value()
		if sess.library.Loaded() {
			if !sess.watching.Load() {
				r.watch(sess)
			}
			return sess.library, nil
		}
	}
	return r.SignIn(ctx, uid)
}

// Lookup returns the live collection of uid without loading anything
func (r *Registry) Lookup(uid string) (*library.Synchronizer, bool) {
	if item := r.sessions.Get(uid); item != nil {
		return item.Value().library, true
	}
	return nil, false
}

// SignOut ends the session of uid and clears its collection
func (r *Registry) SignOut(uid string) {
	r.mu.Lock()
	item := r.sessions.Get(uid)
	r.sessions.Delete(uid)
	r.mu.Unlock()

	if item != nil {
		item.Value().end()
		r.logger.Info("User signed out", zap.String("uid", uid))
	}
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Close ends every session
func (r *Registry) Close() {
	r.cancel()
	r.sessions.DeleteAll()
	r.sessions.Stop()
}

// session returns the session of uid, creating it when missing
func (r *Registry) session(uid string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item := r.sessions.Get(uid); item != nil {
		return item.Value(), false
	}

	ctx, cancel := context.WithCancel(r.ctx)
	sess := &session{
		uid:     uid,
		library: library.New(r.source, r.logger.With(zap.String("uid", uid)), r.opts...),
		ctx:     ctx,
		cancel:  cancel,
	}
	r.sessions.Set(uid, sess, ttlcache.DefaultTTL)
	return sess, true
}

// watch reconciles the session's collection with pushed store snapshots
func (r *Registry) watch(sess *session) {
	if !sess.watching.CompareAndSwap(false, true) {
		return
	}
	feed, err := r.source.Subscribe(sess.ctx, sess.uid)
	if err != nil {
		sess.watching.Store(false)
		r.logger.Warn("Change subscription unavailable", zap.String("uid", sess.uid), zap.Error(err))
		return
	}

	go func() {
		err := sess.library.Watch(sess.ctx, feed)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Debug("Stopped following changes", zap.String("uid", sess.uid), zap.Error(err))
		}
	}()
}
