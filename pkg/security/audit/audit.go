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

// Package audit emits structured security events without adding latency
// to the request path. Producers enqueue; a small worker pool drains the
// queue into a pluggable sink. When the queue is full, INFO and WARN
// events are dropped and counted while ERROR and CRITICAL wait a bounded
// time for a slot.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/davgate/davgate/pkg/security/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "davgate",
		Subsystem: "audit",
		Name:      "events_total",
		Help:      "Audit events accepted into the queue.",
	}, []string{"type"})
	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "davgate",
		Subsystem: "audit",
		Name:      "dropped_total",
		Help:      "Audit events dropped because the queue was full.",
	}, []string{"level"})
)

// Sink persists audit events. Implementations live under sink/ and are
// chosen by driver name in the config.
type Sink interface {
	Write(ctx context.Context, ev Event) error
	Close() error
}

// Config tunes the manager.
type Config struct {
	QueueSize         int  `mapstructure:"queue_size"`
	Workers           int  `mapstructure:"workers"`
	Mask              bool `mapstructure:"mask"`
	BlockWaitMS       int  `mapstructure:"block_wait_ms"`
	CriticalThreshold int  `mapstructure:"critical_threshold"`
	RingSize          int  `mapstructure:"ring_size"`
}

// ApplyDefaults fills the zero values.
func (c *Config) ApplyDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.BlockWaitMS == 0 {
		c.BlockWaitMS = 100
	}
	if c.CriticalThreshold == 0 {
		c.CriticalThreshold = 5
	}
	if c.RingSize == 0 {
		c.RingSize = DefaultRingSize
	}
}

func (c *Config) blockWait() time.Duration {
	return time.Duration(c.BlockWaitMS) * time.Millisecond
}

// Manager fans events from many producers into the sink.
type Manager struct {
	conf  Config
	sink  Sink
	log   *zerolog.Logger
	queue chan Event
	ring  *ring
	wg    sync.WaitGroup

	mu         sync.RWMutex
	onCritical func(clientIP string)

	malicious *ratelimit.Limiter
}

// New starts the worker pool. Close must be called to flush the queue.
func New(conf Config, sink Sink, log *zerolog.Logger) *Manager {
	conf.ApplyDefaults()
	m := &Manager{
		conf:      conf,
		sink:      sink,
		log:       log,
		queue:     make(chan Event, conf.QueueSize),
		ring:      newRing(conf.RingSize),
		malicious: ratelimit.New(),
	}
	for i := 0; i < conf.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// OnCritical registers the hook invoked when one address accumulates
// CriticalThreshold malicious events within a window. The hook receives
// the unmasked address; it runs on the producer goroutine and must not
// block.
func (m *Manager) OnCritical(hook func(clientIP string)) {
	m.mu.Lock()
	m.onCritical = hook
	m.mu.Unlock()
}

// Emit queues one event. The raw event feeds the critical-hook counter
// before masking so the hook sees a usable address.
func (m *Manager) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}

	if ev.Type == MaliciousRequest && ev.ClientIP != "" {
		// Allow returns false once the budget is gone; the budget here
		// is threshold-1 events per window, so the threshold-th event
		// trips the hook.
		if !m.malicious.Allow("audit:"+ev.ClientIP, m.conf.CriticalThreshold-1) {
			m.mu.RLock()
			hook := m.onCritical
			m.mu.RUnlock()
			if hook != nil {
				hook(ev.ClientIP)
			}
		}
	}

	if m.conf.Mask {
		ev = ev.Masked()
	}
	m.ring.add(ev)

	select {
	case m.queue <- ev:
		eventsTotal.WithLabelValues(string(ev.Type)).Inc()
		return
	default:
	}

	if ev.Level == LevelError || ev.Level == LevelCritical {
		t := time.NewTimer(m.conf.blockWait())
		defer t.Stop()
		select {
		case m.queue <- ev:
			eventsTotal.WithLabelValues(string(ev.Type)).Inc()
			return
		case <-t.C:
		}
	}
	droppedTotal.WithLabelValues(string(ev.Level)).Inc()
}

// Close waits for queued events to reach the sink, then closes it.
func (m *Manager) Close() error {
	close(m.queue)
	m.wg.Wait()
	return m.sink.Close()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for ev := range m.queue {
		if err := m.sink.Write(context.Background(), ev); err != nil {
			m.log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("audit: sink write failed")
		}
	}
}
