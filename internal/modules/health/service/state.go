package service

import (
	"sync/atomic"
	"time"
)

// State is written by the feed and the dispatcher and read by the HTTP handlers.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds
	ticks        atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) TouchTick(t time.Time) {
	s.lastTickUnix.Store(t.Unix())
	s.ticks.Add(1)
}

func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Ticks() int64 { return s.ticks.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

type Snapshot struct {
	Ready        bool  `json:"ready"`
	WSConnected  bool  `json:"wsConnected"`
	UptimeSec    int64 `json:"uptimeSec"`
	LastTickUnix int64 `json:"lastTickUnix"`
	Ticks        int64 `json:"ticks"`
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Ready:        s.Ready(),
		WSConnected:  s.WSConnected(),
		UptimeSec:    int64(s.Uptime().Seconds()),
		LastTickUnix: s.lastTickUnix.Load(),
		Ticks:        s.Ticks(),
	}
}
