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

// Package engine defines the narrow command surface of the external
// distributed SQL engine. The coordinator's live node list is the single
// source of truth for registration state, local records are only hints.
package engine

import (
	"context"

	"github.com/shoal-db/shoal/pkg/topology"
)

// Node is one entry of the coordinator's live node list
type Node struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Active bool   `json:"active"`
	// Role is "coordinator" or "worker" as the engine reports it
	Role string `json:"role"`
}

// Addr return the NodeAddr of this entry
func (n Node) Addr() topology.NodeAddr {
	return topology.NodeAddr{Host: n.Host, Port: n.Port}
}

const (
	// StrategyByDiskSize spreads shards so disk usage evens out
	StrategyByDiskSize = "by_disk_size"
	// StrategyByShardCount spreads shards by count, preferable when the shard
	// count is known and shards are evenly sized
	StrategyByShardCount = "by_shard_count"
)

// RebalanceState is the engine reported state of one rebalance job
type RebalanceState string

const (
	RebalancePending RebalanceState = "pending"
	RebalanceRunning RebalanceState = "running"
	RebalanceDone    RebalanceState = "done"
	RebalanceFailed  RebalanceState = "failed"
)

// Finished return true if the job will make no further progress
func (s RebalanceState) Finished() bool {
	return s == RebalanceDone || s == RebalanceFailed
}

// Engine is the coordinator command surface consumed by the control plane
// mutating calls against one coordinator must not interleave, implementations
// serialize them internally
type Engine interface {
	// RegisterNode makes the coordinator aware of a worker
	// registering an address the coordinator already knows is a no-op success
	RegisterNode(ctx context.Context, host string, port int) error
	// DrainNode asks the engine to move the worker's data elsewhere
	DrainNode(ctx context.Context, host string, port int) error
	// RemoveNode deregisters a worker, force skips the engine's own drain checks
	RemoveNode(ctx context.Context, host string, port int, force bool) error
	// ListNodes return the coordinator's current node list
	ListNodes(ctx context.Context) ([]Node, error)
	// ShardCount return how many shard placements live on the worker,
	// zero confirms a finished drain
	ShardCount(ctx context.Context, host string, port int) (int, error)
	// Rebalance start a data redistribution job and return its id
	Rebalance(ctx context.Context, strategy string) (string, error)
	// RebalanceStatus return the state of a started job
	RebalanceStatus(ctx context.Context, jobID string) (RebalanceState, error)
}

// Checker classifies the health of one node by direct connection,
// independent of the coordinator
type Checker interface {
	// Check return nil when the node accepts connections and answers a
	// trivial liveness query, a NotReadyError when it answers but is still
	// initializing, any other error means unreachable
	Check(ctx context.Context, addr topology.NodeAddr) error
}

// Lookup return the node with the given address from a live list, nil if absent
func Lookup(nodes []Node, addr topology.NodeAddr) *Node {
	for i := range nodes {
		if nodes[i].Host == addr.Host && nodes[i].Port == addr.Port {
			return &nodes[i]
		}
	}
	return nil
}
