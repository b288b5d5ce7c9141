package livestream

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is the live association between a stream key and its transcoder.
// The process handle is owned by the Session; only the Controller kills it.
type Session struct {
	Key       StreamKey
	ID        string
	OutputDir string
	StartedAt time.Time

	proc     Process
	stopping atomic.Bool
}

func newSession(key StreamKey, outputDir string, proc Process, now time.Time) *Session {
	return &Session{
		Key:       key,
		ID:        uuid.NewString(),
		OutputDir: outputDir,
		StartedAt: now,
		proc:      proc,
	}
}

// PID returns the operating-system process ID of the transcoder.
func (s *Session) PID() int {
	return s.proc.Pid()
}

// Exited reports whether the transcoder process has been reaped.
func (s *Session) Exited() bool {
	select {
	case <-s.proc.Done():
		return true
	default:
		return false
	}
}

// Info returns a copy of the session's public attributes.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Key:       s.Key,
		ID:        s.ID,
		PID:       s.PID(),
		OutputDir: s.OutputDir,
		StartedAt: s.StartedAt,
		Exited:    s.Exited(),
	}
}

// slot holds the current session for one key. Its mutex is the per-key
// critical section; no lock spans more than one key.
type slot struct {
	mu   sync.Mutex
	sess *Session
}

// ProcessTable maps stream keys to their current Session, at most one per key.
type ProcessTable struct {
	slots sync.Map // StreamKey -> *slot
}

// NewProcessTable returns an empty table.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{}
}

// Put registers s as the current session for key and returns the session it
// displaced, if any. The displaced session is already detached from the table
// when Put returns; the caller is responsible for terminating it.
func (t *ProcessTable) Put(key StreamKey, s *Session) (replaced *Session) {
	v, _ := t.slots.LoadOrStore(key, &slot{})
	sl := v.(*slot)

	sl.mu.Lock()
	replaced, sl.sess = sl.sess, s
	sl.mu.Unlock()

	return replaced
}

// Remove detaches and returns the current session for key, or nil.
func (t *ProcessTable) Remove(key StreamKey) *Session {
	v, ok := t.slots.Load(key)
	if !ok {
		return nil
	}
	sl := v.(*slot)

	sl.mu.Lock()
	s := sl.sess
	sl.sess = nil
	sl.mu.Unlock()

	return s
}

// Get returns the current session for key, or nil.
func (t *ProcessTable) Get(key StreamKey) *Session {
	v, ok := t.slots.Load(key)
	if !ok {
		return nil
	}
	sl := v.(*slot)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.sess
}

// Keys returns the keys that currently have a session, sorted.
func (t *ProcessTable) Keys() []StreamKey {
	var keys []StreamKey
	t.slots.Range(func(k, v any) bool {
		if t.Get(k.(StreamKey)) != nil {
			keys = append(keys, k.(StreamKey))
		}
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Snapshot returns the info of every registered session, sorted by key.
func (t *ProcessTable) Snapshot() []SessionInfo {
	var out []SessionInfo
	t.slots.Range(func(k, v any) bool {
		if s := t.Get(k.(StreamKey)); s != nil {
			out = append(out, s.Info())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of keys with a registered session.
func (t *ProcessTable) Len() int {
	n := 0
	t.slots.Range(func(k, v any) bool {
		if t.Get(k.(StreamKey)) != nil {
			n++
		}
		return true
	})
	return n
}
