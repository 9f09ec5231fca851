// Copyright 2018-2024 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event

	// when set, the first Write blocks until release is closed and
	// signals started once it is inside Write.
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *captureSink) Write(ctx context.Context, ev Event) error {
	if s.release != nil {
		s.once.Do(func() {
			close(s.started)
			<-s.release
		})
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestEmitReachesSink(t *testing.T) {
	sink := &captureSink{}
	m := New(Config{}, sink, nopLogger())

	m.Emit(Event{Type: AuthenticationFailure, Level: LevelWarn, Username: "einstein"})
	m.Emit(Event{Type: AuthenticationSuccess, Username: "einstein"})
	require.NoError(t, m.Close())

	events := sink.all()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.False(t, ev.Time.IsZero())
	}
	// level defaults to INFO when the producer does not grade the event
	var success Event
	for _, ev := range events {
		if ev.Type == AuthenticationSuccess {
			success = ev
		}
	}
	assert.Equal(t, LevelInfo, success.Level)
}

func TestEmitMasksBeforeSink(t *testing.T) {
	sink := &captureSink{}
	m := New(Config{Mask: true}, sink, nopLogger())

	m.Emit(Event{Type: AuthenticationFailure, ClientIP: "203.0.113.7", Username: "einstein"})
	require.NoError(t, m.Close())

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "203.0.*.**", events[0].ClientIP)
	assert.Equal(t, "ei***n", events[0].Username)
}

func TestOverflowDropsInfoKeepsOrder(t *testing.T) {
	sink := &captureSink{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := New(Config{QueueSize: 1, Workers: 1, BlockWaitMS: 10}, sink, nopLogger())

	// first event: taken by the worker which then blocks inside Write
	m.Emit(Event{Type: AuthenticationSuccess, Details: "first"})
	<-sink.started

	// second event: fills the queue buffer
	m.Emit(Event{Type: AuthenticationSuccess, Details: "second"})

	// queue is full now: INFO drops immediately, ERROR waits then drops
	m.Emit(Event{Type: SuspiciousActivity, Level: LevelInfo, Details: "dropped-info"})
	start := time.Now()
	m.Emit(Event{Type: SystemError, Level: LevelError, Details: "dropped-error"})
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	close(sink.release)
	require.NoError(t, m.Close())

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Details)
	assert.Equal(t, "second", events[1].Details)
}

func TestCriticalHookFiresAtThreshold(t *testing.T) {
	sink := &captureSink{}
	m := New(Config{CriticalThreshold: 3}, sink, nopLogger())

	var mu sync.Mutex
	var blocked []string
	m.OnCritical(func(ip string) {
		mu.Lock()
		blocked = append(blocked, ip)
		mu.Unlock()
	})

	m.Emit(Event{Type: MaliciousRequest, Level: LevelError, ClientIP: "203.0.113.7"})
	m.Emit(Event{Type: MaliciousRequest, Level: LevelError, ClientIP: "203.0.113.7"})
	mu.Lock()
	assert.Empty(t, blocked)
	mu.Unlock()

	m.Emit(Event{Type: MaliciousRequest, Level: LevelError, ClientIP: "203.0.113.7"})
	mu.Lock()
	assert.Equal(t, []string{"203.0.113.7"}, blocked)
	mu.Unlock()

	// other addresses have their own budget
	m.Emit(Event{Type: MaliciousRequest, Level: LevelError, ClientIP: "203.0.113.8"})
	mu.Lock()
	assert.Len(t, blocked, 1)
	mu.Unlock()

	// non-malicious events never count towards the threshold
	for i := 0; i < 10; i++ {
		m.Emit(Event{Type: AuthenticationFailure, Level: LevelWarn, ClientIP: "203.0.113.9"})
	}
	mu.Lock()
	assert.Len(t, blocked, 1)
	mu.Unlock()

	require.NoError(t, m.Close())
}

// The ring backs the admin surface's recent-events view.
func TestRecentKeepsTheNewestEvents(t *testing.T) {
	sink := &captureSink{}
	m := New(Config{RingSize: 4}, sink, nopLogger())

	for i := 1; i <= 6; i++ {
		m.Emit(Event{
			Type:     AuthenticationFailure,
			Level:    LevelWarn,
			Username: "einstein",
			Details:  fmt.Sprintf("attempt %d", i),
		})
	}

	want := []Event{
		{Type: AuthenticationFailure, Level: LevelWarn, Username: "einstein", Details: "attempt 3"},
		{Type: AuthenticationFailure, Level: LevelWarn, Username: "einstein", Details: "attempt 4"},
		{Type: AuthenticationFailure, Level: LevelWarn, Username: "einstein", Details: "attempt 5"},
		{Type: AuthenticationFailure, Level: LevelWarn, Username: "einstein", Details: "attempt 6"},
	}
	ignoreTime := cmpopts.IgnoreFields(Event{}, "Time")
	if diff := cmp.Diff(want, m.Recent(0), ignoreTime); diff != "" {
		t.Errorf("ring contents mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want[2:], m.Recent(2), ignoreTime); diff != "" {
		t.Errorf("capped snapshot mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, m.Close())
}
