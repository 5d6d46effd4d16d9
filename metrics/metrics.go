// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the prometheus collectors of the kernel.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "graphkernel"

	MetricCursorAllocations = "cursor_allocations_total"
	MetricIndexSeeks        = "index_seeks_total"
	MetricCountStrategy     = "count_strategy_total"
	MetricLockUpgrades      = "uniqueness_lock_upgrades_total"
	MetricCommits           = "commits_total"
	MetricCommitDuration    = "commit_duration_seconds"
	MetricIndexPopulations  = "index_populations_total"
	MetricLockWaits         = "lock_waits_total"
)

// CursorAllocations counts cursor acquisitions by kind and by whether the
// pooled instance was reused.
var CursorAllocations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricCursorAllocations,
		Help:      "Cursors handed out by cursor factories.",
	},
	[]string{"kind", "source"},
)

// IndexSeeks counts index cursor initializations by dispatch kind.
var IndexSeeks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricIndexSeeks,
		Help:      "Index seeks by dispatch kind.",
	},
	[]string{"kind"},
)

// CountStrategy counts which strategy answered a count.
var CountStrategy = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricCountStrategy,
		Help:      "Counts answered per strategy.",
	},
	[]string{"entity", "strategy"},
)

var LockUpgrades = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricLockUpgrades,
		Help:      "Uniqueness seeks that had to take an exclusive index entry lock.",
	},
)

var LockWaits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricLockWaits,
		Help:      "Lock acquisitions that had to wait, by outcome.",
	},
	[]string{"outcome"},
)

var Commits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricCommits,
		Help:      "Transaction outcomes.",
	},
	[]string{"outcome"},
)

var CommitDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricCommitDuration,
		Help:      "Time spent applying committed transactions.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	},
)

var IndexPopulations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricIndexPopulations,
		Help:      "Finished index populations by resulting state.",
	},
	[]string{"state"},
)

func init() {
	prometheus.MustRegister(CursorAllocations)
	prometheus.MustRegister(IndexSeeks)
	prometheus.MustRegister(CountStrategy)
	prometheus.MustRegister(LockUpgrades)
	prometheus.MustRegister(LockWaits)
	prometheus.MustRegister(Commits)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(IndexPopulations)
}
