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

// Package metrics instruments served requests with request counts,
// latencies and sizes. It is a configured middleware: add a
// [http.middlewares.metrics] section to enable it.
package metrics

import (
	"net/http"

	"github.com/davgate/davgate/pkg/rhttp/global"
	"github.com/davgate/davgate/pkg/rhttp/router"
	"github.com/davgate/davgate/pkg/utils/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPriority = 100

func init() {
	global.RegisterMiddleware("metrics", New)
}

type config struct {
	Priority int `mapstructure:"priority"`
}

func (c *config) ApplyDefaults() {
	if c.Priority == 0 {
		c.Priority = defaultPriority
	}
}

var inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "http_in_flight_requests",
	Help: "A gauge of requests currently being served by the wrapped handler.",
})

var counter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_api_requests_total",
		Help: "A counter for requests to the wrapped handler.",
	},
	[]string{"code", "method"},
)

// duration is partitioned by the HTTP method and the service prefix the
// request routes to. Full paths would blow up the cardinality on a file
// server.
var duration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "A histogram of latencies for requests.",
		Buckets: []float64{.25, .5, 1, 2.5, 5, 10},
	},
	[]string{"handler", "method"},
)

// responseSize has no labels, making it a zero-dimensional ObserverVec.
var responseSize = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "A histogram of response sizes for requests.",
		Buckets: []float64{200, 500, 900, 1500},
	},
	[]string{},
)

// requestSize has no labels, making it a zero-dimensional ObserverVec.
var requestSize = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_size_bytes",
		Help:    "A histogram of request sizes for requests.",
		Buckets: []float64{200, 500, 900, 1500},
	},
	[]string{},
)

// New returns a middleware instrumenting the wrapped handler.
func New(m map[string]interface{}) (global.Middleware, int, error) {
	conf := &config{}
	if err := cfg.Decode(m, conf); err != nil {
		return nil, 0, err
	}

	chain := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			head, _ := router.ShiftPath(r.URL.Path)
			wrapped := promhttp.InstrumentHandlerDuration(duration.MustCurryWith(prometheus.Labels{"handler": head}),
				promhttp.InstrumentHandlerCounter(counter,
					promhttp.InstrumentHandlerResponseSize(responseSize,
						promhttp.InstrumentHandlerRequestSize(requestSize,
							promhttp.InstrumentHandlerInFlight(inFlightGauge, h),
						),
					),
				),
			)
			wrapped.ServeHTTP(w, r)
		})
	}
	return chain, conf.Priority, nil
}
