// Package presence tracks which users currently hold a live realtime
// connection. Each user has at most one: the most recent registration wins
// and the previous connection is handed back to the caller to close.
package presence

import "sync"

// Conn is the push side of a live connection. Push enqueues a payload for the
// connection's writer without blocking; it fails when the connection is closed
// or its buffer is full.
type Conn interface {
	Push(payload []byte) error
}

// Directory maps usernames to their live connection.
//
// All operations take one mutex and do no I/O while holding it, so they are
// safe to call from any goroutine and never fail.
type Directory struct {
	mu    sync.Mutex
	conns map[string]Conn

	// OnChange, when set, is called with the online count after every
	// mutation. It runs outside the lock.
	OnChange func(online int)
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{conns: make(map[string]Conn)}
}

// Register binds conn to username and returns the connection it replaced,
// or nil if the user was offline.
func (d *Directory) Register(username string, conn Conn) (superseded Conn) {
	d.mu.Lock()
	prev := d.conns[username]
	d.conns[username] = conn
	n := len(d.conns)
	d.mu.Unlock()

	d.changed(n)
	if prev == conn {
		return nil
	}
	return prev
}

// Lookup returns the live connection for username.
func (d *Directory) Lookup(username string) (Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[username]
	return c, ok
}

// Unregister removes username only if it is still bound to conn. A connection
// that was superseded by a newer one does not evict its successor. It reports
// whether an entry was removed.
func (d *Directory) Unregister(username string, conn Conn) bool {
	d.mu.Lock()
	cur, ok := d.conns[username]
	if !ok || cur != conn {
		d.mu.Unlock()
		return false
	}
	delete(d.conns, username)
	n := len(d.conns)
	d.mu.Unlock()

	d.changed(n)
	return true
}

// Len returns the number of online users.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *Directory) changed(n int) {
	if d.OnChange != nil {
		d.OnChange(n)
	}
}
