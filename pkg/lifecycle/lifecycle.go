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

// Package lifecycle drives a cluster from its observed state to the state a
// topology declares. The controller performs no hidden retries, a node that
// misses its target is reported, not retried.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/probe"
	"github.com/shoal-db/shoal/pkg/register"
	"github.com/shoal-db/shoal/pkg/supervisor"
	"github.com/shoal-db/shoal/pkg/topology"
)

var (
	operationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shoal_lifecycle_operation_total",
	}, []string{"operation", "outcome"})
	operationSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shoal_lifecycle_operation_last_seconds",
	}, []string{"operation"})
)

const (
	targetReady      = "ready"
	targetRegistered = "registered"
	targetRunning    = "running"
	targetRemoved    = "removed"
	stateStopped     = "stopped"
	stateUnknown     = "unknown"
)

// Controller composes generation, supervision, probing and registration into
// converge style operations against one cluster
// operations serialize in process, serializing across processes is the caller's job
type Controller struct {
	gen    *generate.Generator
	sup    supervisor.Supervisor
	eng    engine.Engine
	prober *probe.Prober
	reg    *register.Orchestrator
	lg     logrus.FieldLogger

	waitTimeout      time.Duration
	parallelism      int
	disableRebalance bool
	clock            clock.Clock

	opLock sync.Mutex

	hashLk sync.Mutex
	// lastHash is the plan hash of the last fully converged run,
	// empty whenever the cluster state is not known to match any plan
	lastHash string
}

// New create a Controller
func New(
	gen *generate.Generator,
	sup supervisor.Supervisor,
	eng engine.Engine,
	prober *probe.Prober,
	reg *register.Orchestrator,
	cfg Config,
	promRegistry prometheus.Registerer,
	log logrus.FieldLogger) *Controller {
	cfg.withDefaults()
	_ = promRegistry.Register(operationTotal)
	_ = promRegistry.Register(operationSeconds)
	return &Controller{
		gen:              gen,
		sup:              sup,
		eng:              eng,
		prober:           prober,
		reg:              reg,
		lg:               log,
		waitTimeout:      cfg.WaitTimeout,
		parallelism:      cfg.Parallelism,
		disableRebalance: cfg.DisableRebalance,
		clock:            cfg.Clock,
	}
}

// Converge drive the cluster to the given topology
// nodes only in the new plan are started, probed and registered, nodes only in
// the observed state are drained, deregistered and stopped, nodes in both keep
// running and only have their membership verified, a plan equal to the last
// applied one short-circuits with no calls at all
func (c *Controller) Converge(ctx context.Context, t *topology.Topology) (*Report, error) {
	return c.operate(ctx, t, "converge")
}

// AddWorker converge onto the topology extended by one worker
// a zero index picks the next free one, the returned topology is the extended
// one and should replace the caller's copy
func (c *Controller) AddWorker(ctx context.Context, t *topology.Topology, spec topology.WorkerSpec) (*Report, *topology.Topology, error) {
	next := t.Clone()
	if spec.Index == 0 {
		spec.Index = next.NextIndex()
	}
	next.Workers = append(next.Workers, spec)
	if next.WorkerCount > 0 {
		next.WorkerCount = len(next.Workers)
	}
	next.Normalize()

	rep, err := c.operate(ctx, next, "addWorker")
	if err != nil {
		return rep, nil, err
	}
	return rep, next, nil
}

// Resize converge onto the topology resized to count workers
// growth appends workers at the next free indices, shrinking removes the
// highest indices first
func (c *Controller) Resize(ctx context.Context, t *topology.Topology, count int) (*Report, *topology.Topology, error) {
	if count < 0 {
		rep := c.newReport("resize")
		err := error(&topology.InvalidTopologyError{Problems: []string{
			fmt.Sprintf("worker count is negative: %d", count),
		}})
		return c.rejected(rep, err), nil, err
	}

	next := t.Clone()
	if count < len(next.Workers) {
		next.Workers = next.Workers[:count]
	}
	for i := next.NextIndex(); i <= count; i++ {
		next.Workers = append(next.Workers, topology.WorkerSpec{Index: i})
	}
	if next.WorkerCount > 0 {
		next.WorkerCount = len(next.Workers)
	}
	next.Normalize()

	rep, err := c.operate(ctx, next, "resize")
	if err != nil {
		return rep, nil, err
	}
	return rep, next, nil
}

// RemoveWorker drive one worker out of the cluster, drain first unless force
// is set, force skips the drain and is flagged in the report, never silent
// only the highest index may go, anything else would leave an index gap
// on success the returned topology no longer contains the worker
func (c *Controller) RemoveWorker(ctx context.Context, t *topology.Topology, name string, force bool) (*Report, *topology.Topology, error) {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	rep := c.newReport("removeWorker")
	plan, err := c.gen.Plan(t)
	if err != nil {
		err = errors.Wrapf(err, "generate plan")
		return c.rejected(rep, err), nil, err
	}

	def := plan.Lookup(name)
	if def == nil || def.Role != generate.RoleWorker {
		err := errors.Errorf("topology has no worker named %s", name)
		return c.rejected(rep, err), nil, err
	}
	if def.Index != len(t.Workers) {
		err := error(&topology.InvalidTopologyError{Problems: []string{fmt.Sprintf(
			"removing worker %d leaves an index gap, worker %d must go first", def.Index, len(t.Workers)),
		}})
		return c.rejected(rep, err), nil, err
	}

	if force {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("drain of %s was skipped, shards still on it are lost", name))
	}
	nr := c.removeNode(ctx, def.Name, def.Role, def.Addr, force)
	rep.Nodes = append(rep.Nodes, nr)
	if nr.Failed() {
		c.clearApplied()
		return c.finish(rep, OutcomePartiallyConverged), nil, nil
	}

	next := t.Clone()
	next.Workers = next.Workers[:len(next.Workers)-1]
	if next.WorkerCount > 0 {
		next.WorkerCount = len(next.Workers)
	}

	if nextPlan, perr := c.gen.Plan(next); perr == nil {
		rep.Hash = nextPlan.Hash
		c.advanceApplied(plan.Hash, nextPlan.Hash)
	} else {
		c.clearApplied()
	}
	return c.finish(rep, OutcomeConverged), next, nil
}

// Rebalance start a data redistribution run on demand, for example to retry
// one that failed to start after a grow, the job finishes inside the engine
// and its id can be polled through the engine's job status
func (c *Controller) Rebalance(ctx context.Context, t *topology.Topology) (string, error) {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	strategy := strategyFor(t)
	job, err := c.eng.Rebalance(ctx, strategy)
	if err != nil {
		return "", errors.Wrapf(err, "start rebalance")
	}
	c.lg.Infof("rebalance job %s started, strategy %s", job, strategy)
	return job, nil
}

// LastApplied return the plan hash of the last fully converged operation,
// empty if the cluster is not known to match any plan
func (c *Controller) LastApplied() string {
	c.hashLk.Lock()
	defer c.hashLk.Unlock()
	return c.lastHash
}

func (c *Controller) operate(ctx context.Context, t *topology.Topology, op string) (*Report, error) {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	rep := c.newReport(op)
	plan, err := c.gen.Plan(t)
	if err != nil {
		err = errors.Wrapf(err, "generate plan")
		return c.rejected(rep, err), err
	}
	rep.Hash = plan.Hash

	if c.applied(plan.Hash) {
		rep.Unchanged = true
		c.lg.Infof("%s %s: plan %s is already applied", op, rep.ID, plan.Hash)
		return c.finish(rep, OutcomeConverged), nil
	}

	handles, err := c.sup.List(ctx)
	if err != nil {
		err = errors.Wrapf(err, "list nodes")
		return c.rejected(rep, err), err
	}

	adds, keeps, removes := diff(plan, handles)
	c.lg.Infof("%s %s: plan %s, %d to start, %d kept, %d to remove",
		op, rep.ID, plan.Hash, len(adds), len(keeps), len(removes))

	var keptWorkers []generate.NodeDefinition
	for i := range keeps {
		if keeps[i].Role == generate.RoleCoordinator {
			rep.Nodes = append(rep.Nodes, NodeReport{
				Name:     keeps[i].Name,
				Role:     keeps[i].Role,
				Addr:     keeps[i].Addr,
				Action:   ActionKeep,
				Target:   targetRunning,
				Achieved: targetRunning,
			})
			continue
		}
		keptWorkers = append(keptWorkers, keeps[i])
	}
	keptReports, repaired := c.checkKeptWorkers(ctx, keptWorkers)
	rep.Nodes = append(rep.Nodes, keptReports...)

	// additions go first so capacity never dips below the old topology
	coordinatorDown := false
	var workerAdds []generate.NodeDefinition
	for i := range adds {
		if adds[i].Role == generate.RoleCoordinator {
			nr := c.startCoordinator(ctx, &adds[i])
			coordinatorDown = nr.Failed()
			rep.Nodes = append(rep.Nodes, nr)
			continue
		}
		workerAdds = append(workerAdds, adds[i])
	}
	rep.Nodes = append(rep.Nodes, c.startWorkers(ctx, workerAdds, coordinatorDown)...)

	for i := range removes {
		rep.Nodes = append(rep.Nodes, c.removeNode(ctx, removes[i].Name, removes[i].Role, removes[i].Addr, false))
	}

	if len(rep.Failures()) != 0 {
		c.clearApplied()
		return c.finish(rep, OutcomePartiallyConverged), nil
	}

	c.setApplied(plan.Hash)
	if (len(workerAdds) != 0 || repaired) && !c.disableRebalance {
		c.startRebalance(ctx, t, rep)
	}
	return c.finish(rep, OutcomeConverged), nil
}

// diff split the plan against the observed handles
// removals come back highest worker first, a removed coordinator goes last
// since removals of workers still need it
func diff(plan *generate.Plan, handles []supervisor.Handle) (adds, keeps []generate.NodeDefinition, removes []supervisor.Handle) {
	running := map[string]bool{}
	for _, h := range handles {
		running[h.Name] = true
	}

	for _, n := range plan.Nodes {
		if running[n.Name] {
			keeps = append(keeps, n)
		} else {
			adds = append(adds, n)
		}
	}

	for _, h := range handles {
		if plan.Lookup(h.Name) == nil {
			removes = append(removes, h)
		}
	}
	sort.Slice(removes, func(i, j int) bool {
		ri, rj := removes[i], removes[j]
		if (ri.Role == generate.RoleCoordinator) != (rj.Role == generate.RoleCoordinator) {
			return rj.Role == generate.RoleCoordinator
		}
		return ri.Index > rj.Index
	})
	return adds, keeps, removes
}

func (c *Controller) startCoordinator(ctx context.Context, def *generate.NodeDefinition) NodeReport {
	nr := NodeReport{
		Name:   def.Name,
		Role:   def.Role,
		Addr:   def.Addr,
		Action: ActionStart,
		Target: targetReady,
	}

	if err := c.sup.Start(ctx, def); err != nil {
		nr.Achieved = stateStopped
		nr.Error = errors.Wrapf(err, "start").Error()
		return nr
	}
	if err := c.prober.WaitReady(ctx, def.Addr, c.waitTimeout); err != nil {
		nr.Achieved = lastProbeState(err)
		nr.Error = err.Error()
		return nr
	}

	nr.Achieved = targetReady
	return nr
}

// startWorkers bring workers up concurrently, issued in ascending index order
// every failure is captured in its report entry, one bad worker never stops
// the others
func (c *Controller) startWorkers(ctx context.Context, defs []generate.NodeDefinition, coordinatorDown bool) []NodeReport {
	if len(defs) == 0 {
		return nil
	}

	limit := c.parallelism
	if limit <= 0 {
		limit = len(defs)
	}
	sem := semaphore.NewWeighted(int64(limit))

	reports := make([]NodeReport, len(defs))
	wait := errgroup.Group{}
	for i := range defs {
		index := i
		def := defs[index]

		wait.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				reports[index] = NodeReport{
					Name:     def.Name,
					Role:     def.Role,
					Addr:     def.Addr,
					Action:   ActionStart,
					Target:   targetRegistered,
					Achieved: stateUnknown,
					Error:    err.Error(),
				}
				return nil
			}
			defer sem.Release(1)

			reports[index] = c.startWorker(ctx, &def, coordinatorDown)
			return nil
		})
	}
	_ = wait.Wait()
	return reports
}

func (c *Controller) startWorker(ctx context.Context, def *generate.NodeDefinition, coordinatorDown bool) NodeReport {
	nr := NodeReport{
		Name:   def.Name,
		Role:   def.Role,
		Addr:   def.Addr,
		Action: ActionStart,
		Target: targetRegistered,
	}

	if err := c.sup.Start(ctx, def); err != nil {
		nr.Achieved = stateStopped
		nr.Error = errors.Wrapf(err, "start").Error()
		return nr
	}
	if err := c.prober.WaitReady(ctx, def.Addr, c.waitTimeout); err != nil {
		nr.Achieved = lastProbeState(err)
		nr.Error = err.Error()
		return nr
	}
	if coordinatorDown {
		nr.Achieved = targetReady
		nr.Error = "coordinator did not become ready, registration was not attempted"
		return nr
	}
	if err := c.reg.EnsureRegistered(ctx, def.Addr); err != nil {
		nr.Achieved = c.recordState(def.Addr)
		nr.Error = err.Error()
		return nr
	}

	nr.Achieved = targetRegistered
	return nr
}

// checkKeptWorkers verify kept workers are still part of the cluster
// a worker an earlier run left running but unregistered gets registered here,
// reported as repaired so the caller can rebalance data onto it
func (c *Controller) checkKeptWorkers(ctx context.Context, defs []generate.NodeDefinition) ([]NodeReport, bool) {
	if len(defs) == 0 {
		return nil, false
	}

	pending := map[string]bool{}
	addrs := make([]topology.NodeAddr, 0, len(defs))
	for i := range defs {
		addrs = append(addrs, defs[i].Addr)
		if rec, ok := c.reg.Record(defs[i].Addr); ok && rec.State != register.StateRegistered {
			pending[defs[i].Addr.String()] = true
		}
	}
	err := c.reg.EnsureRegisteredAll(ctx, addrs)

	repaired := false
	reports := make([]NodeReport, 0, len(defs))
	for i := range defs {
		nr := NodeReport{
			Name:   defs[i].Name,
			Role:   defs[i].Role,
			Addr:   defs[i].Addr,
			Action: ActionKeep,
			Target: targetRegistered,
		}
		rec, ok := c.reg.Record(defs[i].Addr)
		switch {
		case ok && rec.State == register.StateRegistered:
			nr.Achieved = targetRegistered
			if pending[defs[i].Addr.String()] {
				c.lg.Infof("%s was running but not registered, membership repaired", defs[i].Name)
				repaired = true
			}
		case ok:
			nr.Achieved = string(rec.State)
			nr.Error = rec.LastError
		default:
			nr.Achieved = stateUnknown
			if err != nil {
				nr.Error = err.Error()
			}
		}
		reports = append(reports, nr)
	}
	return reports, repaired
}

// removeNode deregister a worker and stop it, a failed drain leaves the node
// running and holding its data
func (c *Controller) removeNode(ctx context.Context, name string, role generate.Role, addr topology.NodeAddr, force bool) NodeReport {
	nr := NodeReport{
		Name:   name,
		Role:   role,
		Addr:   addr,
		Action: ActionRemove,
		Target: targetRemoved,
		Forced: force,
	}

	if role == generate.RoleWorker {
		if err := c.reg.EnsureRemoved(ctx, addr, force); err != nil {
			nr.Achieved = c.recordState(addr)
			nr.Error = err.Error()
			return nr
		}
	}
	if err := c.sup.Stop(ctx, name); err != nil {
		nr.Achieved = targetRemoved
		nr.Error = errors.Wrapf(err, "stop").Error()
		return nr
	}

	nr.Achieved = targetRemoved
	return nr
}

// strategyFor pick the redistribution strategy, an explicit shard count hint
// means shards are evenly sized and counting them is enough
func strategyFor(t *topology.Topology) string {
	if t.ShardCountHint > 0 {
		return engine.StrategyByShardCount
	}
	return engine.StrategyByDiskSize
}

// startRebalance kick off data redistribution onto the new workers
// the job runs inside the engine and is not awaited here
func (c *Controller) startRebalance(ctx context.Context, t *topology.Topology, rep *Report) {
	strategy := strategyFor(t)

	job, err := c.eng.Rebalance(ctx, strategy)
	if err != nil {
		c.lg.Errorf("start rebalance: %s", err.Error())
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("rebalance did not start: %s", err.Error()))
		return
	}

	rep.RebalanceJob = job
	c.lg.Infof("rebalance job %s started, strategy %s", job, strategy)
}

func (c *Controller) recordState(addr topology.NodeAddr) string {
	if rec, ok := c.reg.Record(addr); ok {
		return string(rec.State)
	}
	return stateUnknown
}

// lastProbeState translate a readiness failure into how the node looked when
// waiting stopped
func lastProbeState(err error) string {
	te := &probe.TimeoutError{}
	if errors.As(err, &te) {
		return string(te.Last)
	}
	return stateUnknown
}

func (c *Controller) newReport(op string) *Report {
	return &Report{
		ID:        uuid.NewString(),
		Operation: op,
		Started:   c.clock.Now(),
		Nodes:     []NodeReport{},
	}
}

func (c *Controller) rejected(rep *Report, err error) *Report {
	rep.Error = err.Error()
	c.lg.Errorf("%s %s rejected: %s", rep.Operation, rep.ID, err.Error())
	return c.finish(rep, OutcomeFailed)
}

func (c *Controller) finish(rep *Report, outcome Outcome) *Report {
	rep.Outcome = outcome
	rep.Elapsed = c.clock.Now().Sub(rep.Started)

	operationTotal.WithLabelValues(rep.Operation, string(outcome)).Inc()
	operationSeconds.WithLabelValues(rep.Operation).Set(rep.Elapsed.Seconds())

	for _, n := range rep.Failures() {
		c.lg.Errorf("%s %s: %s missed %s: %s", rep.Operation, rep.ID, n.Name, n.Target, n.Error)
	}
	c.lg.Infof("%s %s finished, outcome %s, %d nodes, took %s",
		rep.Operation, rep.ID, outcome, len(rep.Nodes), rep.Elapsed)
	return rep
}

func (c *Controller) applied(hash string) bool {
	c.hashLk.Lock()
	defer c.hashLk.Unlock()
	return c.lastHash != "" && c.lastHash == hash
}

func (c *Controller) setApplied(hash string) {
	c.hashLk.Lock()
	defer c.hashLk.Unlock()
	c.lastHash = hash
}

func (c *Controller) clearApplied() {
	c.hashLk.Lock()
	defer c.hashLk.Unlock()
	c.lastHash = ""
}

// advanceApplied move the converged marker from one plan hash to another when
// the starting state was known converged, anything else clears it
func (c *Controller) advanceApplied(prev, to string) {
	c.hashLk.Lock()
	defer c.hashLk.Unlock()
	if c.lastHash == prev {
		c.lastHash = to
	} else {
		c.lastHash = ""
	}
}
