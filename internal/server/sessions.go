package server

import (
	"sync"
	"time"

	"mangalens/internal/engine"
)

type session struct {
	engine  *engine.Engine
	release func()
	url     string
	mode    string
	created time.Time
	used    time.Time
}

func (s *session) close() {
	s.engine.Close()
	if s.release != nil {
		s.release()
	}
}

type sessionStore struct {
	mu   sync.RWMutex
	now  func() time.Time
	data map[string]*session
}

func newSessionStore(now func() time.Time) *sessionStore {
	if now == nil {
		now = time.Now
	}
	return &sessionStore{now: now, data: make(map[string]*session)}
}

func (c *sessionStore) Store(sess *session) {
	t := c.now()
	sess.created, sess.used = t, t
	c.mu.Lock()
	c.data[sess.engine.ID()] = sess
	c.mu.Unlock()
}

// Get returns the session and marks it used.
func (c *sessionStore) Get(id string) (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.data[id]
	if ok {
		sess.used = c.now()
	}
	return sess, ok
}

func (c *sessionStore) Delete(id string) (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.data[id]
	delete(c.data, id)
	return sess, ok
}

func (c *sessionStore) DeleteAll() []*session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*session, 0, len(c.data))
	for id, sess := range c.data {
		out = append(out, sess)
		delete(c.data, id)
	}
	return out
}

// Expire removes sessions idle for longer than ttl and returns them.
func (c *sessionStore) Expire(ttl time.Duration) []*session {
	if ttl <= 0 {
		return nil
	}
	cutoff := c.now().Add(-ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*session
	for id, sess := range c.data {
		if sess.used.Before(cutoff) {
			out = append(out, sess)
			delete(c.data, id)
		}
	}
	return out
}

func (c *sessionStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
