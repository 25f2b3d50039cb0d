/*
 * Tencent is pleased to support the open source community by making TKEStack available.
 *
 * Copyright (C) 2012-2019 Tencent. All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use
 * this file except in compliance with the License. You may obtain a copy of the
 * License at
 *
 * https://opensource.org/licenses/Apache-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
 * WARRANTIES OF ANY KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations under the License.
 */

package lifecycle

import (
	"time"

	"github.com/juju/clock"

	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/probe"
	"github.com/shoal-db/shoal/pkg/topology"
)

// Outcome is the overall result of one lifecycle operation
type Outcome string

const (
	// OutcomeConverged means every node reached its target state
	OutcomeConverged Outcome = "converged"
	// OutcomePartiallyConverged means the operation ran but some nodes failed,
	// the per node entries name them
	OutcomePartiallyConverged Outcome = "partiallyConverged"
	// OutcomeFailed means the operation was rejected before any node was touched
	OutcomeFailed Outcome = "failed"
)

// Action is what the controller decided to do with one node
type Action string

const (
	// ActionStart brings a new node up, probes it and registers workers
	ActionStart Action = "start"
	// ActionKeep leaves an already running node untouched
	ActionKeep Action = "keep"
	// ActionRemove drains a worker, deregisters it and stops the node
	ActionRemove Action = "remove"
)

// NodeReport is the per node slice of an operation report
type NodeReport struct {
	Name   string            `json:"name"`
	Role   generate.Role     `json:"role"`
	Addr   topology.NodeAddr `json:"addr"`
	Action Action            `json:"action"`
	// Target is the terminal state the node was driven towards
	Target string `json:"target"`
	// Achieved is the state the node actually reached
	Achieved string `json:"achieved"`
	// Error is set when Achieved differs from Target
	Error string `json:"error,omitempty"`
	// Forced marks a removal that skipped the drain, unmoved data is lost
	Forced bool `json:"forced,omitempty"`
}

// Failed return true if this node missed its target
func (n *NodeReport) Failed() bool {
	return n.Error != ""
}

// Report is the full result of one lifecycle operation, side effects of the
// controller are observable only through it
type Report struct {
	// ID identifies one run in logs and reports
	ID string `json:"id"`
	// Operation names what was run, converge, addWorker, removeWorker or resize
	Operation string  `json:"operation"`
	Outcome   Outcome `json:"outcome"`
	// Hash is the plan content hash this run converged towards
	Hash string `json:"hash,omitempty"`
	// Unchanged marks a converge that matched the last applied hash and did nothing
	Unchanged bool          `json:"unchanged,omitempty"`
	Started   time.Time     `json:"started"`
	Elapsed   time.Duration `json:"elapsed"`
	Nodes     []NodeReport  `json:"nodes"`
	// RebalanceJob is the id of the data redistribution job kicked off after
	// new workers joined, empty if none was started
	RebalanceJob string `json:"rebalanceJob,omitempty"`
	// Warnings carry caller choices worth flagging, a forced removal is never silent
	Warnings []string `json:"warnings,omitempty"`
	// Error is the rejection cause when Outcome is failed
	Error string `json:"error,omitempty"`
}

// Failures return the nodes that missed their target
func (r *Report) Failures() []NodeReport {
	var ret []NodeReport
	for _, n := range r.Nodes {
		if n.Failed() {
			ret = append(ret, n)
		}
	}
	return ret
}

const (
	// DefaultWaitTimeout bounds how long one node may take to become ready
	DefaultWaitTimeout = probe.DefaultWaitTimeout
)

// Config tune the controller, the zero value uses the defaults
type Config struct {
	// WaitTimeout bounds the readiness wait of every started node
	WaitTimeout time.Duration
	// Parallelism bounds how many workers are brought up at once,
	// zero means one goroutine per worker
	Parallelism int
	// DisableRebalance skips the data redistribution kick after workers join
	DisableRebalance bool
	// Clock is swappable for tests
	Clock clock.Clock
}

func (c *Config) withDefaults() {
	if c.WaitTimeout == 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
}
