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

package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shoal-db/shoal/pkg/topology"
)

// Fake is an in memory Engine for unit testing
// every call is counted so tests can assert on side effect counts
type Fake struct {
	mu sync.Mutex

	nodes map[string]Node
	calls map[string]int

	registerScript map[string][]error
	drainScript    map[string][]error
	shardCounts    map[string][]int
	rebalanceJobs  map[string][]RebalanceState
	lastStrategy   string
}

// NewFake return an empty fake engine
func NewFake() *Fake {
	return &Fake{
		nodes:          map[string]Node{},
		calls:          map[string]int{},
		registerScript: map[string][]error{},
		drainScript:    map[string][]error{},
		shardCounts:    map[string][]int{},
		rebalanceJobs:  map[string][]RebalanceState{},
	}
}

// SeedNode pre-populate the live node list
func (f *Fake) SeedNode(host string, port int, role string, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := Node{Host: host, Port: port, Role: role, Active: active}
	f.nodes[n.Addr().String()] = n
}

// ScriptRegisterErrors queue errors returned by successive RegisterNode calls
// for addr, once drained registration succeeds
func (f *Fake) ScriptRegisterErrors(addr topology.NodeAddr, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerScript[addr.String()] = append(f.registerScript[addr.String()], errs...)
}

// ScriptDrainErrors queue errors returned by successive DrainNode calls for addr
func (f *Fake) ScriptDrainErrors(addr topology.NodeAddr, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drainScript[addr.String()] = append(f.drainScript[addr.String()], errs...)
}

// SetShardCounts set the values successive ShardCount calls report for addr,
// the last value sticks forever
func (f *Fake) SetShardCounts(addr topology.NodeAddr, counts ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shardCounts[addr.String()] = counts
}

// Calls return how many times the named method was called
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// MutationCalls return the total count of state changing engine calls
func (f *Fake) MutationCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["RegisterNode"] + f.calls["DrainNode"] + f.calls["RemoveNode"] + f.calls["Rebalance"]
}

// Nodes return a copy of the current live node list
func (f *Fake) Nodes() []Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		ret = append(ret, n)
	}
	return ret
}

// RegisterNode implement Engine
func (f *Fake) RegisterNode(ctx context.Context, host string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["RegisterNode"]++

	key := topology.NodeAddr{Host: host, Port: port}.String()
	if script := f.registerScript[key]; len(script) != 0 {
		err := script[0]
		f.registerScript[key] = script[1:]
		if err != nil {
			return err
		}
	}

	if _, ok := f.nodes[key]; ok {
		return nil
	}
	f.nodes[key] = Node{Host: host, Port: port, Role: "worker", Active: true}
	return nil
}

// DrainNode implement Engine
func (f *Fake) DrainNode(ctx context.Context, host string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DrainNode"]++

	key := topology.NodeAddr{Host: host, Port: port}.String()
	if script := f.drainScript[key]; len(script) != 0 {
		err := script[0]
		f.drainScript[key] = script[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

// RemoveNode implement Engine
func (f *Fake) RemoveNode(ctx context.Context, host string, port int, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["RemoveNode"]++
	delete(f.nodes, topology.NodeAddr{Host: host, Port: port}.String())
	return nil
}

// ListNodes implement Engine
func (f *Fake) ListNodes(ctx context.Context) ([]Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListNodes"]++
	ret := make([]Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		ret = append(ret, n)
	}
	return ret, nil
}

// ShardCount implement Engine
func (f *Fake) ShardCount(ctx context.Context, host string, port int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ShardCount"]++

	key := topology.NodeAddr{Host: host, Port: port}.String()
	counts := f.shardCounts[key]
	if len(counts) == 0 {
		return 0, nil
	}
	count := counts[0]
	if len(counts) > 1 {
		f.shardCounts[key] = counts[1:]
	}
	return count, nil
}

// LastStrategy return the strategy of the most recent Rebalance call
func (f *Fake) LastStrategy() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastStrategy
}

// Rebalance implement Engine
func (f *Fake) Rebalance(ctx context.Context, strategy string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Rebalance"]++
	f.lastStrategy = strategy

	id := uuid.NewString()
	f.rebalanceJobs[id] = []RebalanceState{RebalanceRunning, RebalanceDone}
	return id, nil
}

// RebalanceStatus implement Engine
func (f *Fake) RebalanceStatus(ctx context.Context, jobID string) (RebalanceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["RebalanceStatus"]++

	states := f.rebalanceJobs[jobID]
	if len(states) == 0 {
		return RebalanceDone, nil
	}
	state := states[0]
	if len(states) > 1 {
		f.rebalanceJobs[jobID] = states[1:]
	}
	return state, nil
}

// FakeChecker is an in memory Checker
// results are scripted per address, the last entry sticks forever
type FakeChecker struct {
	mu      sync.Mutex
	results map[string][]error
	calls   int
}

// NewFakeChecker return a checker that reports every node ready
func NewFakeChecker() *FakeChecker {
	return &FakeChecker{results: map[string][]error{}}
}

// ScriptResults set the errors successive Check calls return for addr,
// use nil entries for ready
func (c *FakeChecker) ScriptResults(addr topology.NodeAddr, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[addr.String()] = errs
}

// Check implement Checker
func (c *FakeChecker) Check(ctx context.Context, addr topology.NodeAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	script := c.results[addr.String()]
	if len(script) == 0 {
		return nil
	}
	err := script[0]
	if len(script) > 1 {
		c.results[addr.String()] = script[1:]
	}
	return err
}

// CheckCalls return the total count of Check calls
func (c *FakeChecker) CheckCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
