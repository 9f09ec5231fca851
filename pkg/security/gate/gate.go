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

// Package gate decides whether an ingress request may proceed before any
// authentication or backend work happens. Checks run cheapest first:
// address tables, then rate counters, then request heuristics. The gate
// never retries and a decision is final for the request; a fault during
// evaluation denies.
package gate

import (
	"context"
	"regexp"
	"strings"

	"github.com/davgate/davgate/pkg/appctx"
	"github.com/davgate/davgate/pkg/security/audit"
	"github.com/davgate/davgate/pkg/security/iptable"
	"github.com/davgate/davgate/pkg/security/ratelimit"
	"github.com/davgate/davgate/pkg/useragent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Action is the remediation a non-allow decision asks the edge to apply.
type Action string

// Actions.
const (
	ActionAllow           Action = "ALLOW"
	ActionDeny            Action = "DENY"
	ActionRateLimit       Action = "RATE_LIMIT"
	ActionIPBlock         Action = "IP_BLOCK"
	ActionCaptchaRequired Action = "CAPTCHA_REQUIRED"
)

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed bool
	Action  Action
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true, Action: ActionAllow}
}

// Request is the request surface the gate inspects: everything the edge
// knows before authentication. Username is filled from the session store
// when a previous request on the same session authenticated.
type Request struct {
	ClientIP  string
	UserAgent string
	Method    string
	Path      string
	Username  string
}

// Config tunes the gate.
type Config struct {
	AllowlistEnabled bool     `mapstructure:"allowlist_enabled"`
	Allowlist        []string `mapstructure:"allowlist"`
	Denylist         []string `mapstructure:"denylist"`
	IPPerMinute      int      `mapstructure:"ip_per_minute"`
	UserPerMinute    int      `mapstructure:"user_per_minute"`
	GlobalEnabled    bool     `mapstructure:"global_enabled"`
	GlobalPerSecond  int      `mapstructure:"global_per_second"`
	// CaptchaThreshold is the number of failed authentications from one
	// address within a window after which the gate demands a fresh
	// interactive login. Zero disables the check.
	CaptchaThreshold int `mapstructure:"captcha_threshold"`
}

// ApplyDefaults fills the zero values.
func (c *Config) ApplyDefaults() {
	if c.IPPerMinute == 0 {
		c.IPPerMinute = 300
	}
	if c.UserPerMinute == 0 {
		c.UserPerMinute = 600
	}
}

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "davgate",
	Subsystem: "gate",
	Name:      "decisions_total",
	Help:      "Gate decisions by action.",
}, []string{"action"})

var suspiciousAgent = regexp.MustCompile(`(?i)(bot|crawler|spider|scanner)`)

// traversalPatterns deny outright: any of these in a path is an attempt
// to escape the WebDAV root.
var traversalPatterns = []string{"../", `..\`, "%2e%2e", "....//"}

// suspiciousSubstrings deny as probing: nobody serves these over WebDAV.
var suspiciousSubstrings = []string{"__", "passwd", "shadow"}

// Gate evaluates requests against address tables, rate counters and
// request heuristics.
type Gate struct {
	conf    *Config
	allow   *iptable.Table
	deny    *iptable.Table
	limiter *ratelimit.Limiter
	auditor *audit.Manager
}

// New builds a gate from config. The audit manager is shared with the
// rest of the process.
func New(conf *Config, auditor *audit.Manager) (*Gate, error) {
	conf.ApplyDefaults()
	allowTbl, err := iptable.New(conf.Allowlist)
	if err != nil {
		return nil, err
	}
	denyTbl, err := iptable.New(conf.Denylist)
	if err != nil {
		return nil, err
	}
	return &Gate{
		conf:    conf,
		allow:   allowTbl,
		deny:    denyTbl,
		limiter: ratelimit.New(),
		auditor: auditor,
	}, nil
}

// Check runs the evaluation chain. The order is load-bearing: cheap and
// local checks run before counters, heuristics run last.
func (g *Gate) Check(ctx context.Context, req Request) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			appctx.GetLogger(ctx).Error().Interface("panic", r).Msg("gate: recovered evaluation fault")
			d = g.denied(req, Decision{Action: ActionDeny, Reason: "security check error"},
				audit.SystemError, audit.LevelCritical)
		}
		decisionsTotal.WithLabelValues(string(d.Action)).Inc()
	}()

	if g.conf.AllowlistEnabled && !iptable.IsTrusted(req.ClientIP) && !g.allow.Contains(req.ClientIP) {
		return g.denied(req, Decision{Action: ActionIPBlock, Reason: "address not in allow-list"},
			audit.IPBlocked, audit.LevelWarn)
	}

	if g.deny.Contains(req.ClientIP) {
		return g.denied(req, Decision{Action: ActionIPBlock, Reason: "address is blacklisted"},
			audit.IPBlocked, audit.LevelError)
	}

	if !g.limiter.Allow("ip:"+req.ClientIP, g.conf.IPPerMinute) {
		return g.denied(req, Decision{Action: ActionRateLimit, Reason: "too many requests from address"},
			audit.RateLimited, audit.LevelWarn)
	}

	if req.Username != "" && !g.limiter.Allow("user:"+req.Username, g.conf.UserPerMinute) {
		return g.denied(req, Decision{Action: ActionRateLimit, Reason: "too many requests for user"},
			audit.RateLimited, audit.LevelWarn)
	}

	if g.conf.GlobalEnabled && !g.limiter.Allow("global:"+req.Method, g.conf.GlobalPerSecond) {
		return g.denied(req, Decision{Action: ActionRateLimit, Reason: "global method budget exhausted"},
			audit.RateLimited, audit.LevelWarn)
	}

	if g.conf.CaptchaThreshold > 0 {
		if g.limiter.Remaining("captcha:"+req.ClientIP, g.conf.CaptchaThreshold) == 0 {
			return g.denied(req, Decision{Action: ActionCaptchaRequired, Reason: "too many authentication failures"},
				audit.SuspiciousActivity, audit.LevelWarn)
		}
	}

	if req.UserAgent == "" {
		return g.denied(req, Decision{Action: ActionDeny, Reason: "empty user agent"},
			audit.SuspiciousActivity, audit.LevelWarn)
	}
	if suspiciousAgent.MatchString(req.UserAgent) {
		return g.denied(req, Decision{Action: ActionDeny, Reason: "suspicious user agent"},
			audit.SuspiciousActivity, audit.LevelWarn)
	}
	// the parser knows crawlers whose names the pattern misses
	if useragent.IsBot(req.UserAgent) {
		return g.denied(req, Decision{Action: ActionDeny, Reason: "suspicious user agent"},
			audit.SuspiciousActivity, audit.LevelWarn)
	}

	lower := strings.ToLower(req.Path)
	for _, p := range traversalPatterns {
		if strings.Contains(lower, p) {
			return g.denied(req, Decision{Action: ActionDeny, Reason: "path traversal attempt"},
				audit.MaliciousRequest, audit.LevelError)
		}
	}
	for _, seg := range strings.Split(req.Path, "/") {
		if strings.HasPrefix(seg, ".") {
			return g.denied(req, Decision{Action: ActionDeny, Reason: "hidden path segment"},
				audit.SuspiciousActivity, audit.LevelWarn)
		}
	}
	for _, s := range suspiciousSubstrings {
		if strings.Contains(lower, s) {
			return g.denied(req, Decision{Action: ActionDeny, Reason: "suspicious path"},
				audit.SuspiciousActivity, audit.LevelWarn)
		}
	}

	return allow()
}

// RecordAuthFailure consumes one unit of the captcha budget for the
// address. The auth layer calls this on every failed authentication.
func (g *Gate) RecordAuthFailure(clientIP string) {
	if g.conf.CaptchaThreshold > 0 && clientIP != "" {
		g.limiter.Allow("captcha:"+clientIP, g.conf.CaptchaThreshold)
	}
}

// BlockIP adds an entry to the deny table at runtime.
func (g *Gate) BlockIP(entry string) error {
	return g.deny.Add(entry)
}

// UnblockIP removes an entry from the deny table.
func (g *Gate) UnblockIP(entry string) {
	g.deny.Remove(entry)
}

// Denylist returns the live deny table rows.
func (g *Gate) Denylist() []string { return g.deny.Entries() }

// Allowlist returns the live allow table rows.
func (g *Gate) Allowlist() []string { return g.allow.Entries() }

// AllowIP adds an entry to the allow table at runtime.
func (g *Gate) AllowIP(entry string) error {
	return g.allow.Add(entry)
}

// DisallowIP removes an entry from the allow table.
func (g *Gate) DisallowIP(entry string) {
	g.allow.Remove(entry)
}

// Stats reports table and counter sizes for the admin surface.
func (g *Gate) Stats() map[string]int {
	return map[string]int{
		"allowlist_entries": g.allow.Len(),
		"denylist_entries":  g.deny.Len(),
		"rate_buckets":      g.limiter.Size(),
	}
}

func (g *Gate) denied(req Request, d Decision, t audit.Type, lvl audit.Level) Decision {
	g.auditor.Emit(audit.Event{
		Level:     lvl,
		Type:      t,
		ClientIP:  req.ClientIP,
		Username:  req.Username,
		UserAgent: req.UserAgent,
		Path:      req.Path,
		Method:    req.Method,
		Details:   d.Reason,
	})
	return d
}
