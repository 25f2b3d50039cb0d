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

// Package register keep the coordinator's worker membership in step with
// the desired topology, one state machine per worker
package register

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/topology"
)

// Orchestrator drive worker membership through registration and removal
// every operation is idempotent, calling it again continues from the live
// coordinator state instead of repeating side effects
type Orchestrator struct {
	eng engine.Engine
	lg  logrus.FieldLogger

	registerAttempts  int
	registerDelay     time.Duration
	drainPollInterval time.Duration
	drainTimeout      time.Duration
	clock             clock.Clock

	lk      sync.Mutex
	records map[string]*Record
}

// New create an orchestrator with no tracked workers
func New(eng engine.Engine, cfg Config, log logrus.FieldLogger) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{
		eng:               eng,
		lg:                log,
		registerAttempts:  cfg.RegisterAttempts,
		registerDelay:     cfg.RegisterDelay,
		drainPollInterval: cfg.DrainPollInterval,
		drainTimeout:      cfg.DrainTimeout,
		clock:             cfg.Clock,
		records:           map[string]*Record{},
	}
}

// EnsureRegistered make the coordinator know the worker
// a worker the live node list already contains is left alone, transient
// engine failures are retried with doubling delays up to the attempt budget
func (o *Orchestrator) EnsureRegistered(ctx context.Context, addr topology.NodeAddr) error {
	live, err := o.eng.ListNodes(ctx)
	if err != nil {
		return errors.Wrapf(err, "list nodes")
	}
	if n := engine.Lookup(live, addr); n != nil && n.Active {
		o.setState(addr, StateRegistered, nil)
		return nil
	}

	o.setState(addr, StateRegistering, nil)

	attempts := 0
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			return o.eng.RegisterNode(ctx, addr.Host, addr.Port)
		},
		IsFatalError: func(err error) bool {
			return !engine.IsTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			o.lg.Warnf("register %s attempt %d failed: %s", addr, attempt, err.Error())
		},
		Attempts:    o.registerAttempts,
		Delay:       o.registerDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       o.clock,
		Stop:        ctx.Done(),
	})
	o.setAttempts(addr, attempts)

	if err == nil {
		o.setState(addr, StateRegistered, nil)
		return nil
	}

	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	o.setState(addr, StateFailed, err)
	return errors.Wrapf(err, "register %s", addr)
}

// EnsureRegisteredAll register every worker concurrently
// the engine serializes its own mutations, fan out only overlaps waiting
func (o *Orchestrator) EnsureRegisteredAll(ctx context.Context, addrs []topology.NodeAddr) error {
	g := errgroup.Group{}
	for _, taddr := range addrs {
		addr := taddr
		g.Go(func() error {
			return o.EnsureRegistered(ctx, addr)
		})
	}
	return g.Wait()
}

// EnsureRemoved take the worker out of the coordinator
// the default path drains first and only removes when no shards remain,
// force skips the drain and loses whatever placements are still on the node
func (o *Orchestrator) EnsureRemoved(ctx context.Context, addr topology.NodeAddr, force bool) error {
	live, err := o.eng.ListNodes(ctx)
	if err != nil {
		return errors.Wrapf(err, "list nodes")
	}
	if engine.Lookup(live, addr) == nil {
		// the coordinator forgot it already, nothing to undo
		o.finishRemoved(addr, false)
		return nil
	}

	if force {
		o.lg.Warnf("removing %s without draining, shard placements on it are abandoned", addr)
		if err := o.eng.RemoveNode(ctx, addr.Host, addr.Port, true); err != nil {
			o.setState(addr, StateFailed, err)
			return errors.Wrapf(err, "force remove %s", addr)
		}
		o.finishRemoved(addr, true)
		return nil
	}

	o.setState(addr, StateDrainRequested, nil)
	if err := o.eng.DrainNode(ctx, addr.Host, addr.Port); err != nil {
		o.setState(addr, StateFailed, err)
		return errors.Wrapf(err, "drain %s", addr)
	}
	o.setState(addr, StateDraining, nil)

	remaining, err := o.waitDrained(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			// the drain keeps running engine side, a later removal resumes it
			return ctx.Err()
		}
		if retry.IsDurationExceeded(err) {
			stall := &DrainStallError{Addr: addr, Remaining: remaining, Elapsed: o.drainTimeout}
			o.setState(addr, StateFailed, stall)
			return stall
		}
		o.setState(addr, StateFailed, err)
		return errors.Wrapf(err, "wait for drain of %s", addr)
	}

	if err := o.eng.RemoveNode(ctx, addr.Host, addr.Port, false); err != nil {
		o.setState(addr, StateFailed, err)
		return errors.Wrapf(err, "remove %s", addr)
	}
	o.finishRemoved(addr, false)
	return nil
}

// stillDraining separate normal drain progress from real failures
type stillDraining struct {
	n int
}

func (e *stillDraining) Error() string {
	return fmt.Sprintf("%d shards still present", e.n)
}

// waitDrained poll the shard count until it reaches zero or the budget runs out
func (o *Orchestrator) waitDrained(ctx context.Context, addr topology.NodeAddr) (int, error) {
	remaining := -1
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			n, err := o.eng.ShardCount(ctx, addr.Host, addr.Port)
			if err != nil {
				return err
			}
			remaining = n
			if n == 0 {
				return nil
			}
			return &stillDraining{n: n}
		},
		IsFatalError: func(err error) bool {
			if ctx.Err() != nil {
				return true
			}
			still := &stillDraining{}
			return !errors.As(err, &still) && !engine.IsTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			o.lg.Debugf("draining %s, poll %d: %s", addr, attempt, err.Error())
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       o.drainPollInterval,
		MaxDuration: o.drainTimeout,
		Clock:       o.clock,
		Stop:        ctx.Done(),
	})
	return remaining, err
}

// Reconcile rebuild worker records from the live node list
// tracked state only survives where it carries intent the coordinator can
// not express, a drain in flight stays a drain
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	live, err := o.eng.ListNodes(ctx)
	if err != nil {
		return errors.Wrapf(err, "list nodes")
	}

	o.lk.Lock()
	defer o.lk.Unlock()

	seen := map[string]bool{}
	for _, n := range live {
		if n.Role != "worker" {
			continue
		}
		key := n.Addr().String()
		seen[key] = true

		rec := o.records[key]
		if rec == nil {
			o.records[key] = &Record{Addr: n.Addr(), State: StateRegistered, UpdatedAt: o.clock.Now()}
			continue
		}
		switch rec.State {
		case StateDraining, StateDrainRequested:
		default:
			if rec.State != StateRegistered {
				o.lg.Infof("%s: %s -> %s", rec.Addr, rec.State, StateRegistered)
				rec.State = StateRegistered
				rec.UpdatedAt = o.clock.Now()
			}
		}
	}

	for key, rec := range o.records {
		if seen[key] || rec.State == StateFailed {
			continue
		}
		o.lg.Infof("%s: %s -> %s", rec.Addr, rec.State, StateRemoved)
		delete(o.records, key)
	}
	return nil
}

// Records return a snapshot of all tracked workers sorted by address
func (o *Orchestrator) Records() []Record {
	o.lk.Lock()
	defer o.lk.Unlock()

	ret := make([]Record, 0, len(o.records))
	for _, rec := range o.records {
		ret = append(ret, *rec)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Addr.String() < ret[j].Addr.String()
	})
	return ret
}

// Record return the tracked state of one worker
func (o *Orchestrator) Record(addr topology.NodeAddr) (Record, bool) {
	o.lk.Lock()
	defer o.lk.Unlock()

	rec, ok := o.records[addr.String()]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (o *Orchestrator) setState(addr topology.NodeAddr, st State, cause error) {
	o.lk.Lock()
	defer o.lk.Unlock()

	rec := o.records[addr.String()]
	if rec == nil {
		rec = &Record{Addr: addr, State: StateUnregistered}
		o.records[addr.String()] = rec
	}
	if rec.State != st {
		o.lg.Infof("%s: %s -> %s", addr, rec.State, st)
	}
	rec.State = st
	rec.UpdatedAt = o.clock.Now()
	rec.LastError = ""
	if cause != nil {
		rec.LastError = cause.Error()
	}
}

func (o *Orchestrator) setAttempts(addr topology.NodeAddr, n int) {
	o.lk.Lock()
	defer o.lk.Unlock()
	if rec := o.records[addr.String()]; rec != nil {
		rec.Attempts = n
	}
}

// finishRemoved drop the record, a removed worker is no longer tracked
func (o *Orchestrator) finishRemoved(addr topology.NodeAddr, forced bool) {
	o.lk.Lock()
	defer o.lk.Unlock()

	prev := StateUnregistered
	if rec := o.records[addr.String()]; rec != nil {
		prev = rec.State
	}
	if forced {
		o.lg.Warnf("%s: %s -> %s, drain was skipped", addr, prev, StateRemoved)
	} else {
		o.lg.Infof("%s: %s -> %s", addr, prev, StateRemoved)
	}
	delete(o.records, addr.String())
}
