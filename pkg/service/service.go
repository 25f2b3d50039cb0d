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

// Package service is the http control surface of one cluster
// mutating calls run at most one at a time, a second caller gets a conflict
// instead of queueing behind an operation of unknown length
package service

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/shoal-db/shoal/pkg/api"
	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/lifecycle"
	"github.com/shoal-db/shoal/pkg/register"
	"github.com/shoal-db/shoal/pkg/supervisor"
	"github.com/shoal-db/shoal/pkg/topology"
)

const defaultLogTail = 500

var errBusy = fmt.Errorf("another operation is in flight")

// Service is the control api server of one cluster
type Service struct {
	// gin.Engine is the gin engine for handle http request
	*gin.Engine
	lg           logrus.FieldLogger
	topologyFile string
	tManager     *topology.Manager
	gen          *generate.Generator
	sup          supervisor.Supervisor
	eng          engine.Engine
	reg          *register.Orchestrator
	ctrl         *lifecycle.Controller
	busy         chan struct{}
	runHTTP      func(addr string, handler http.Handler) error
}

// NewService return a new control server
// topologyFile may be empty, reloading is rejected then and mutations only
// change the in memory topology
func NewService(
	topologyFile string,
	tManager *topology.Manager,
	gen *generate.Generator,
	sup supervisor.Supervisor,
	eng engine.Engine,
	reg *register.Orchestrator,
	ctrl *lifecycle.Controller,
	promRegistry *prometheus.Registry,
	lg logrus.FieldLogger) *Service {
	s := &Service{
		Engine:       gin.Default(),
		lg:           lg,
		topologyFile: topologyFile,
		tManager:     tManager,
		gen:          gen,
		sup:          sup,
		eng:          eng,
		reg:          reg,
		ctrl:         ctrl,
		busy:         make(chan struct{}, 1),
		runHTTP:      http.ListenAndServe,
	}
	pprof.Register(s.Engine)

	s.GET("/api/v1/plan", api.Wrap(lg, s.plan))
	s.GET("/api/v1/cluster", api.Wrap(lg, s.cluster))
	s.POST("/api/v1/converge", api.Wrap(lg, s.converge))
	s.POST("/api/v1/workers", api.Wrap(lg, s.addWorker))
	s.DELETE("/api/v1/workers/:name", api.Wrap(lg, s.removeWorker))
	s.POST("/api/v1/resize", api.Wrap(lg, s.resize))
	s.POST("/api/v1/rebalance", api.Wrap(lg, s.rebalance))
	s.GET("/api/v1/rebalance/:job", api.Wrap(lg, s.rebalanceStatus))
	s.GET("/api/v1/nodes/:name/logs", s.logs)
	s.GET("/api/v1/status/topology", api.Wrap(lg, func(ctx *gin.Context) *api.Result {
		info := tManager.Info()
		if info == nil {
			return api.NotFoundErr(fmt.Errorf("no topology loaded"), "topology")
		}
		return api.Data(gin.H{"yaml": string(info.RawContent)})
	}))
	s.POST("/-/reload", api.Wrap(lg, func(ctx *gin.Context) *api.Result {
		if s.topologyFile == "" {
			return api.BadDataErr(fmt.Errorf("topology file is not set"), "reload")
		}
		if err := s.tManager.ReloadFromFile(s.topologyFile); err != nil {
			return api.BadDataErr(err, "reload failed")
		}
		return api.Data(nil)
	}))
	s.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{EnableOpenMetrics: true})))
	return s
}

// Run start Service at address
func (s *Service) Run(address string) error {
	s.lg.Infof("control api listen at %s", address)
	return s.runHTTP(address, s.Engine)
}

func (s *Service) tryLock() bool {
	select {
	case s.busy <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) unlock() {
	<-s.busy
}

func (s *Service) currentTopology() (*topology.Topology, *api.Result) {
	info := s.tManager.Info()
	if info == nil {
		return nil, api.BadDataErr(fmt.Errorf("no topology loaded"), "topology")
	}
	return info.Topology, nil
}

func (s *Service) plan(ctx *gin.Context) *api.Result {
	t, bad := s.currentTopology()
	if bad != nil {
		return bad
	}

	plan, err := s.gen.Plan(t)
	if err != nil {
		return api.BadDataErr(err, "generate plan")
	}
	return api.Data(plan)
}

func (s *Service) converge(ctx *gin.Context) *api.Result {
	t, bad := s.currentTopology()
	if bad != nil {
		return bad
	}
	if !s.tryLock() {
		return api.ConflictErr(errBusy, "converge")
	}
	defer s.unlock()

	rep, err := s.ctrl.Converge(ctx.Request.Context(), t)
	if err != nil && topology.IsInvalid(err) {
		return api.BadDataErr(err, "converge")
	}
	// other failures are part of the report, the call itself succeeded
	return api.Data(rep)
}

func (s *Service) addWorker(ctx *gin.Context) *api.Result {
	t, bad := s.currentTopology()
	if bad != nil {
		return bad
	}

	req := &AddWorkerRequest{}
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(req); err != nil {
			return api.BadDataErr(err, "bind json")
		}
	}

	if !s.tryLock() {
		return api.ConflictErr(errBusy, "add worker")
	}
	defer s.unlock()

	rep, next, err := s.ctrl.AddWorker(ctx.Request.Context(), t, topology.WorkerSpec{Host: req.Host, Port: req.Port})
	if err != nil {
		if topology.IsInvalid(err) {
			return api.BadDataErr(err, "add worker")
		}
		return api.Data(&MutationResult{Report: rep})
	}
	return api.Data(s.mutationResult(rep, next))
}

func (s *Service) removeWorker(ctx *gin.Context) *api.Result {
	t, bad := s.currentTopology()
	if bad != nil {
		return bad
	}
	name := ctx.Param("name")
	force := ctx.Query("force") == "true"

	if !s.tryLock() {
		return api.ConflictErr(errBusy, "remove worker")
	}
	defer s.unlock()

	rep, next, err := s.ctrl.RemoveWorker(ctx.Request.Context(), t, name, force)
	if err != nil {
		if topology.IsInvalid(err) {
			return api.BadDataErr(err, "remove worker")
		}
		if strings.Contains(err.Error(), "no worker named") {
			return api.NotFoundErr(err, "remove worker")
		}
		return api.InternalErr(err, "remove worker")
	}
	return api.Data(s.mutationResult(rep, next))
}

func (s *Service) resize(ctx *gin.Context) *api.Result {
	t, bad := s.currentTopology()
	if bad != nil {
		return bad
	}

	req := &ResizeRequest{}
	if err := ctx.ShouldBindJSON(req); err != nil {
		return api.BadDataErr(err, "bind json")
	}

	if !s.tryLock() {
		return api.ConflictErr(errBusy, "resize")
	}
	defer s.unlock()

	rep, next, err := s.ctrl.Resize(ctx.Request.Context(), t, *req.Count)
	if err != nil {
		if topology.IsInvalid(err) {
			return api.BadDataErr(err, "resize")
		}
		return api.Data(&MutationResult{Report: rep})
	}
	return api.Data(s.mutationResult(rep, next))
}

func (s *Service) rebalance(ctx *gin.Context) *api.Result {
	t, bad := s.currentTopology()
	if bad != nil {
		return bad
	}
	if !s.tryLock() {
		return api.ConflictErr(errBusy, "rebalance")
	}
	defer s.unlock()

	job, err := s.ctrl.Rebalance(ctx.Request.Context(), t)
	if err != nil {
		return api.InternalErr(err, "rebalance")
	}
	return api.Data(&RebalanceResult{Job: job})
}

func (s *Service) rebalanceStatus(ctx *gin.Context) *api.Result {
	job := ctx.Param("job")
	state, err := s.eng.RebalanceStatus(ctx.Request.Context(), job)
	if err != nil {
		return api.InternalErr(err, "rebalance status")
	}
	return api.Data(&RebalanceStatusResult{Job: job, State: state})
}

// mutationResult wrap the report, and when the operation produced a new
// topology, reload the manager with it and hand its yaml to the caller
func (s *Service) mutationResult(rep *lifecycle.Report, next *topology.Topology) *MutationResult {
	res := &MutationResult{Report: rep}
	if next == nil {
		return res
	}

	data, err := yaml.Marshal(next)
	if err != nil {
		s.lg.Errorf("marshal topology: %v", err)
		return res
	}
	res.Topology = string(data)

	if err := s.tManager.ReloadFromRaw(data); err != nil {
		s.lg.Errorf("reload new topology: %v", err)
	}
	return res
}

func (s *Service) cluster(ctx *gin.Context) *api.Result {
	t, bad := s.currentTopology()
	if bad != nil {
		return bad
	}

	plan, err := s.gen.Plan(t)
	if err != nil {
		return api.BadDataErr(err, "generate plan")
	}

	handles, err := s.sup.List(ctx.Request.Context())
	if err != nil {
		return api.InternalErr(err, "list nodes")
	}
	running := map[string]supervisor.Handle{}
	for _, h := range handles {
		running[h.Name] = h
	}

	view := &ClusterView{
		PlanHash:    plan.Hash,
		AppliedHash: s.ctrl.LastApplied(),
		Nodes:       []ClusterNode{},
	}
	view.InSync = view.AppliedHash != "" && view.AppliedHash == view.PlanHash

	var live []engine.Node
	if t.Coordinator != nil {
		if live, err = s.eng.ListNodes(ctx.Request.Context()); err != nil {
			// the view must render even with the coordinator down
			view.EngineError = err.Error()
		}
	}

	records := map[string]register.Record{}
	for _, rec := range s.reg.Records() {
		records[rec.Addr.String()] = rec
	}

	for _, def := range plan.Nodes {
		n := ClusterNode{
			Name:    def.Name,
			Role:    def.Role,
			Addr:    def.Addr,
			Runtime: s.runtimeStatus(ctx, def.Name),
		}
		delete(running, def.Name)
		if ln := engine.Lookup(live, def.Addr); ln != nil {
			n.Registered = true
			n.Active = ln.Active
		}
		if rec, ok := records[def.Addr.String()]; ok {
			n.Membership = rec.State
			n.LastError = rec.LastError
		}
		view.Nodes = append(view.Nodes, n)
	}

	extras := make([]ClusterNode, 0, len(running))
	for _, h := range running {
		n := ClusterNode{
			Name:    h.Name,
			Role:    h.Role,
			Addr:    h.Addr,
			Runtime: s.runtimeStatus(ctx, h.Name),
			Orphan:  true,
		}
		if ln := engine.Lookup(live, h.Addr); ln != nil {
			n.Registered = true
			n.Active = ln.Active
		}
		if rec, ok := records[h.Addr.String()]; ok {
			n.Membership = rec.State
			n.LastError = rec.LastError
		}
		extras = append(extras, n)
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].Name < extras[j].Name })
	view.Nodes = append(view.Nodes, extras...)

	return api.Data(view)
}

// runtimeStatus ask the supervisor for one node, a failed lookup renders as
// unknown instead of failing the whole view
func (s *Service) runtimeStatus(ctx *gin.Context, name string) supervisor.Status {
	st, err := s.sup.Status(ctx.Request.Context(), name)
	if err != nil {
		s.lg.Warnf("status of %s: %v", name, err)
		return supervisor.StatusUnknown
	}
	return st
}

// logs stream the node log as plain text, gzip compressed when the client
// accepts it, this endpoint does not speak the common Result envelope
func (s *Service) logs(ctx *gin.Context) {
	name := ctx.Param("name")
	tail := int64(defaultLogTail)
	if v := ctx.Query("tail"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			ctx.String(http.StatusBadRequest, "bad tail %q", v)
			return
		}
		tail = n
	}

	rc, err := s.sup.Logs(ctx.Request.Context(), name, tail)
	if err != nil {
		s.lg.Errorf("logs of %s: %v", name, err)
		ctx.String(http.StatusNotFound, "logs of %s: %v", name, err)
		return
	}
	defer func() { _ = rc.Close() }()

	ctx.Header("Content-Type", "text/plain; charset=utf-8")
	var wt io.Writer = ctx.Writer
	if strings.Contains(ctx.GetHeader("Accept-Encoding"), "gzip") {
		ctx.Header("Content-Encoding", "gzip")
		gz := gzip.NewWriter(ctx.Writer)
		defer func() { _ = gz.Close() }()
		wt = gz
	}
	ctx.Status(http.StatusOK)
	if _, err := io.Copy(wt, rc); err != nil {
		s.lg.Errorf("stream logs of %s: %v", name, err)
	}
}
