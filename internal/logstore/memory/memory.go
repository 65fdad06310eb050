// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memory implements logstore.Store in-process, for tests and
// single-replica deployments — the same role internal/store/memory plays
// for run state.
package memory

import (
	"context"
	"sync"

	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/logstore"
)

type runLog struct {
	active   []jobmodel.LogEntry
	archived []jobmodel.LogEntry
	flushed  bool
}

// Store is an in-memory logstore.Store.
type Store struct {
	mu   sync.Mutex
	logs map[jobmodel.RunId]*runLog
}

// New creates an empty in-memory log store.
func New() *Store {
	return &Store{logs: make(map[jobmodel.RunId]*runLog)}
}

func (s *Store) entry(id jobmodel.RunId) *runLog {
	l, ok := s.logs[id]
	if !ok {
		l = &runLog{}
		s.logs[id] = l
	}
	return l
}

func (s *Store) Append(_ context.Context, id jobmodel.RunId, entries []jobmodel.LogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.entry(id)
	next := int64(len(l.active))
	if len(l.active) > 0 {
		next = l.active[len(l.active)-1].ID
	}
	for _, e := range entries {
		next++
		e.ID = next
		l.active = append(l.active, e)
	}
	return next, nil
}

func (s *Store) ReadActive(_ context.Context, id jobmodel.RunId, after int64) ([]jobmodel.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[id]
	if !ok {
		return nil, nil
	}
	var out []jobmodel.LogEntry
	for _, e := range l.active {
		if e.ID > after {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ReadFinished(_ context.Context, id jobmodel.RunId) ([]jobmodel.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[id]
	if !ok || !l.flushed {
		return nil, logstore.ErrNotFound
	}
	return l.archived, nil
}

func (s *Store) Flush(_ context.Context, id jobmodel.RunId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.entry(id)
	l.archived = l.active
	l.flushed = true
	return nil
}

func (s *Store) Delete(_ context.Context, id jobmodel.RunId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, id)
	return nil
}

var _ logstore.Store = (*Store)(nil)
