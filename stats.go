// Copyright 2015 Matthew Holt and The Caddy Authors
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

package objcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StatsEnabled gates the optional global counters described in spec.md §6
// ("Optional global counters track total objects, total bytes, total
// containers, total active references, total currently held locks"). Content
// and cardinality of the counters are deliberately out of this package's
// scope per spec.md §1 — this file counts only objects and containers (total
// allocated and currently live); bytes, active references and held locks are
// not counted. An embedder who wants richer admin-surfaced metrics registers
// its own collectors against the same prometheus.Registerer.
var StatsEnabled = false

var runtimeMetrics = struct {
	objectsTotal    prometheus.Counter
	objectsLive     prometheus.Gauge
	containersTotal prometheus.Counter
	containersLive  prometheus.Gauge
}{
	objectsTotal: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "objcore",
		Name:      "objects_allocated_total",
		Help:      "Total objects allocated since process start.",
	}),
	objectsLive: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "objcore",
		Name:      "objects_live",
		Help:      "Objects currently allocated and not yet destroyed.",
	}),
	containersTotal: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "objcore",
		Name:      "containers_allocated_total",
		Help:      "Total containers allocated since process start.",
	}),
	containersLive: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "objcore",
		Name:      "containers_live",
		Help:      "Containers currently allocated and not yet destroyed.",
	}),
}

func statsObjectAllocated() {
	if !StatsEnabled {
		return
	}
	runtimeMetrics.objectsTotal.Inc()
	runtimeMetrics.objectsLive.Inc()
}

func statsObjectFreed() {
	if !StatsEnabled {
		return
	}
	runtimeMetrics.objectsLive.Dec()
}

func statsContainerAllocated() {
	if !StatsEnabled {
		return
	}
	runtimeMetrics.containersTotal.Inc()
	runtimeMetrics.containersLive.Inc()
}

func statsContainerFreed() {
	if !StatsEnabled {
		return
	}
	runtimeMetrics.containersLive.Dec()
}
