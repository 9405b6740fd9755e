package crawler

import (
	"sync"
)

// seenSet is the process-lifetime record of item URLs already handed to the
// item handler during a discovery run.
type seenSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{urls: make(map[string]struct{})}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (s *seenSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[url]; ok {
		return false
	}
	s.urls[url] = struct{}{}
	return true
}

// Len returns the number of URLs seen so far.
func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}

// pooledSession serializes page operations of items sharing one tab.
type pooledSession struct {
	Session
	mu *sync.Mutex
}

func newPooledSession(s Session) pooledSession {
	return pooledSession{Session: s, mu: &sync.Mutex{}}
}

func (p pooledSession) Lock()   { p.mu.Lock() }
func (p pooledSession) Unlock() { p.mu.Unlock() }
