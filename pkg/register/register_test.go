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

package register

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/topology"
)

var testAddr = topology.NodeAddr{Host: "test-worker-1", Port: 5433}

func testOrchestrator(eng engine.Engine) *Orchestrator {
	return New(eng, Config{
		RegisterAttempts:  3,
		RegisterDelay:     time.Millisecond * 500,
		DrainPollInterval: time.Millisecond * 500,
		DrainTimeout:      time.Second * 3,
		Clock:             testclock.NewDilatedWallClock(time.Millisecond),
	}, logrus.New())
}

func transient() error {
	return engine.Transient(fmt.Errorf("dial tcp: connection refused"))
}

func TestEnsureRegistered(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()
	eng.ScriptRegisterErrors(testAddr, transient(), transient())

	o := testOrchestrator(eng)
	r.NoError(o.EnsureRegistered(context.TODO(), testAddr))
	r.Equal(3, eng.Calls("RegisterNode"))

	rec, ok := o.Record(testAddr)
	r.True(ok)
	r.Equal(StateRegistered, rec.State)
	r.Equal(3, rec.Attempts)
	r.Empty(rec.LastError)

	// the worker is live now, registering again must not touch the engine
	r.NoError(o.EnsureRegistered(context.TODO(), testAddr))
	r.Equal(3, eng.Calls("RegisterNode"))
}

func TestEnsureRegisteredAlreadyLive(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()
	eng.SeedNode(testAddr.Host, testAddr.Port, "worker", true)

	o := testOrchestrator(eng)
	r.NoError(o.EnsureRegistered(context.TODO(), testAddr))
	r.Equal(0, eng.Calls("RegisterNode"))

	rec, ok := o.Record(testAddr)
	r.True(ok)
	r.Equal(StateRegistered, rec.State)
}

func TestEnsureRegisteredConflict(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()
	eng.ScriptRegisterErrors(testAddr, &engine.ConflictError{
		Host:   testAddr.Host,
		Port:   testAddr.Port,
		Detail: "registered with another role",
	})

	o := testOrchestrator(eng)
	err := o.EnsureRegistered(context.TODO(), testAddr)
	r.Error(err)
	r.True(engine.IsConflict(err))
	// conflicts are not retried
	r.Equal(1, eng.Calls("RegisterNode"))

	rec, _ := o.Record(testAddr)
	r.Equal(StateFailed, rec.State)
	r.NotEmpty(rec.LastError)
}

func TestEnsureRegisteredExhausted(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()
	eng.ScriptRegisterErrors(testAddr, transient(), transient(), transient(), transient())

	o := testOrchestrator(eng)
	err := o.EnsureRegistered(context.TODO(), testAddr)
	r.Error(err)
	r.True(engine.IsTransient(err))
	r.Equal(3, eng.Calls("RegisterNode"))

	rec, _ := o.Record(testAddr)
	r.Equal(StateFailed, rec.State)
	r.Equal(3, rec.Attempts)
}

func TestEnsureRegisteredAll(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()

	addrs := []topology.NodeAddr{
		{Host: "test-worker-1", Port: 5433},
		{Host: "test-worker-2", Port: 5434},
	}

	o := testOrchestrator(eng)
	r.NoError(o.EnsureRegisteredAll(context.TODO(), addrs))
	r.Len(eng.Nodes(), 2)
	r.Len(o.Records(), 2)
	for _, rec := range o.Records() {
		r.Equal(StateRegistered, rec.State)
	}
}

func TestEnsureRemoved(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()
	eng.SeedNode(testAddr.Host, testAddr.Port, "worker", true)
	eng.SetShardCounts(testAddr, 5, 3, 0)

	o := testOrchestrator(eng)
	r.NoError(o.EnsureRemoved(context.TODO(), testAddr, false))

	r.Equal(1, eng.Calls("DrainNode"))
	r.Equal(3, eng.Calls("ShardCount"))
	r.Equal(1, eng.Calls("RemoveNode"))
	r.Len(eng.Nodes(), 0)

	// a removed worker is no longer tracked
	_, ok := o.Record(testAddr)
	r.False(ok)
}

func TestEnsureRemovedAbsent(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()

	o := testOrchestrator(eng)
	r.NoError(o.EnsureRemoved(context.TODO(), testAddr, false))
	r.Equal(0, eng.MutationCalls())

	_, ok := o.Record(testAddr)
	r.False(ok)
}

func TestEnsureRemovedForce(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()
	eng.SeedNode(testAddr.Host, testAddr.Port, "worker", true)
	eng.SetShardCounts(testAddr, 7)

	o := testOrchestrator(eng)
	r.NoError(o.EnsureRemoved(context.TODO(), testAddr, true))

	// the drain is skipped entirely
	r.Equal(0, eng.Calls("DrainNode"))
	r.Equal(0, eng.Calls("ShardCount"))
	r.Equal(1, eng.Calls("RemoveNode"))
	r.Len(eng.Nodes(), 0)

	_, ok := o.Record(testAddr)
	r.False(ok)
}

func TestEnsureRemovedStalls(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()
	eng.SeedNode(testAddr.Host, testAddr.Port, "worker", true)
	eng.SetShardCounts(testAddr, 4)

	o := testOrchestrator(eng)
	err := o.EnsureRemoved(context.TODO(), testAddr, false)
	r.Error(err)
	r.True(IsDrainStall(err))

	se := &DrainStallError{}
	r.ErrorAs(err, &se)
	r.Equal(4, se.Remaining)
	r.Equal(testAddr, se.Addr)

	// a stalled drain needs an operator, the node is not removed
	r.Equal(0, eng.Calls("RemoveNode"))
	rec, _ := o.Record(testAddr)
	r.Equal(StateFailed, rec.State)
	r.Contains(rec.LastError, "stalled")
	r.Len(eng.Nodes(), 1)
}

func TestEnsureRemovedDrainError(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()
	eng.SeedNode(testAddr.Host, testAddr.Port, "worker", true)
	eng.ScriptDrainErrors(testAddr, fmt.Errorf("function citus_set_node_property does not exist"))

	o := testOrchestrator(eng)
	err := o.EnsureRemoved(context.TODO(), testAddr, false)
	r.Error(err)
	r.False(IsDrainStall(err))

	rec, _ := o.Record(testAddr)
	r.Equal(StateFailed, rec.State)
}

func TestReconcile(t *testing.T) {
	r := require.New(t)
	eng := engine.NewFake()
	eng.SeedNode("coordinator", 5432, "coordinator", true)
	eng.SeedNode("test-worker-1", 5433, "worker", true)
	eng.SeedNode("test-worker-2", 5434, "worker", true)

	o := testOrchestrator(eng)

	// a record for a worker the coordinator no longer knows
	o.setState(topology.NodeAddr{Host: "test-worker-9", Port: 5441}, StateRegistered, nil)
	// a drain in flight survives reconciliation
	o.setState(topology.NodeAddr{Host: "test-worker-2", Port: 5434}, StateDraining, nil)
	// a failed worker is kept for inspection even when gone
	o.setState(topology.NodeAddr{Host: "test-worker-8", Port: 5440}, StateFailed, fmt.Errorf("boom"))

	r.NoError(o.Reconcile(context.TODO()))

	records := o.Records()
	r.Len(records, 3)

	rec, ok := o.Record(topology.NodeAddr{Host: "test-worker-1", Port: 5433})
	r.True(ok)
	r.Equal(StateRegistered, rec.State)

	rec, _ = o.Record(topology.NodeAddr{Host: "test-worker-2", Port: 5434})
	r.Equal(StateDraining, rec.State)

	rec, _ = o.Record(topology.NodeAddr{Host: "test-worker-8", Port: 5440})
	r.Equal(StateFailed, rec.State)

	// stale records for vanished workers are dropped
	_, ok = o.Record(topology.NodeAddr{Host: "test-worker-9", Port: 5441})
	r.False(ok)

	// the coordinator itself is never tracked
	_, ok = o.Record(topology.NodeAddr{Host: "coordinator", Port: 5432})
	r.False(ok)
}
