package convo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/astra/internal/platform"
)

// SessionStore persists conversation windows. Implementations return
// (nil, nil) when a session has no stored window.
type SessionStore interface {
	LoadSession(ctx context.Context, key SessionKey) (*Window, error)
	SaveSession(ctx context.Context, key SessionKey, w *Window, personalitySnapshot []byte) error
	DeleteGuildSessions(ctx context.Context, guild platform.GuildID) error
}

type session struct {
	mu  sync.Mutex
	win *Window
}

type saveReq struct {
	key      SessionKey
	win      *Window
	snapshot []byte
}

// Manager owns the in-memory windows and serializes all mutation per
// session key. Persistence is write-behind: saves are queued and flushed
// by a background worker so the reply path never blocks on the store.
type Manager struct {
	store SessionStore
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[SessionKey]*session

	saves chan saveReq
	done  chan struct{}
}

// NewManager starts the flush worker. Call Close to drain it.
func NewManager(store SessionStore, log *slog.Logger) *Manager {
	m := &Manager{
		store:    store,
		log:      log,
		sessions: make(map[SessionKey]*session),
		saves:    make(chan saveReq, 256),
		done:     make(chan struct{}),
	}
	go m.flushLoop()
	return m
}

func (m *Manager) get(ctx context.Context, key SessionKey) *session {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		s = &session{}
		m.sessions[key] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win == nil {
		w, err := m.store.LoadSession(ctx, key)
		if err != nil {
			m.log.Warn("session load failed, starting empty",
				"guild", key.Guild, "channel", key.Channel, "user", key.User, "error", err)
		}
		if w == nil {
			w = &Window{}
		}
		s.win = w
	}
	return s
}

// Update runs fn against the session's window under its lock and queues
// the result for asynchronous persistence. fn receives the live window.
func (m *Manager) Update(ctx context.Context, key SessionKey, snapshot []byte, fn func(w *Window)) {
	s := m.get(ctx, key)
	s.mu.Lock()
	fn(s.win)
	cp := s.win.clone()
	s.mu.Unlock()

	select {
	case m.saves <- saveReq{key: key, win: cp, snapshot: snapshot}:
	default:
		// Queue full: flush synchronously rather than drop the window.
		if err := m.store.SaveSession(ctx, key, cp, snapshot); err != nil {
			m.log.Warn("session save failed", "guild", key.Guild, "user", key.User, "error", err)
		}
	}
}

// Snapshot returns a copy of the current window for prompt assembly.
func (m *Manager) Snapshot(ctx context.Context, key SessionKey) *Window {
	s := m.get(ctx, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.win.clone()
}

// DropGuild discards in-memory and stored windows for a guild.
func (m *Manager) DropGuild(ctx context.Context, guild platform.GuildID) error {
	m.mu.Lock()
	for key := range m.sessions {
		if key.Guild == guild {
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()
	return m.store.DeleteGuildSessions(ctx, guild)
}

func (m *Manager) flushLoop() {
	defer close(m.done)
	for req := range m.saves {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.store.SaveSession(ctx, req.key, req.win, req.snapshot); err != nil {
			m.log.Warn("session save failed", "guild", req.key.Guild, "user", req.key.User, "error", err)
		}
		cancel()
	}
}

// Close drains pending saves and stops the worker.
func (m *Manager) Close() {
	close(m.saves)
	<-m.done
}

func (w *Window) clone() *Window {
	cp := &Window{
		Turns:     append([]Turn(nil), w.Turns...),
		Important: append([]Turn(nil), w.Important...),
	}
	return cp
}
