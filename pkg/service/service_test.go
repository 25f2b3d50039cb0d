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

package service

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock/testclock"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/shoal-db/shoal/pkg/api"
	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/lifecycle"
	"github.com/shoal-db/shoal/pkg/probe"
	"github.com/shoal-db/shoal/pkg/register"
	"github.com/shoal-db/shoal/pkg/supervisor"
	"github.com/shoal-db/shoal/pkg/topology"
)

const testTopology = `
name: test
coordinator: {}
workerCount: 2
credentials:
  user: shoal
  password: secret
  database: app
`

type bench struct {
	eng     *engine.Fake
	sup     *supervisor.Fake
	gen     *generate.Generator
	reg     *register.Orchestrator
	manager *topology.Manager
	svc     *Service
}

func newBench(topologyFile string) *bench {
	gin.SetMode(gin.ReleaseMode)
	eng := engine.NewFake()
	checker := engine.NewFakeChecker()
	sup := supervisor.NewFake()
	gen := generate.New(generate.Options{})
	lg := logrus.New()
	clk := testclock.NewDilatedWallClock(time.Millisecond)

	prober := probe.New(checker, probe.Config{
		Delay:    time.Millisecond * 500,
		MaxDelay: time.Second,
		Clock:    clk,
	}, lg)
	reg := register.New(eng, register.Config{
		RegisterAttempts:  3,
		RegisterDelay:     time.Millisecond * 500,
		DrainPollInterval: time.Millisecond * 500,
		DrainTimeout:      time.Second * 3,
		Clock:             clk,
	}, lg)
	registry := prometheus.NewRegistry()
	ctrl := lifecycle.New(gen, sup, eng, prober, reg, lifecycle.Config{
		WaitTimeout: time.Second * 3,
		Clock:       clk,
	}, registry, lg)

	manager := topology.NewManager()
	svc := NewService(topologyFile, manager, gen, sup, eng, reg, ctrl, registry, lg)
	return &bench{eng: eng, sup: sup, gen: gen, reg: reg, manager: manager, svc: svc}
}

func loadedBench(t *testing.T) *bench {
	b := newBench("")
	require.NoError(t, b.manager.ReloadFromRaw([]byte(testTopology)))
	return b
}

func TestServiceConverge(t *testing.T) {
	b := loadedBench(t)

	rep := &lifecycle.Report{}
	r, _ := api.TestCall(t, b.svc.ServeHTTP, "/api/v1/converge", http.MethodPost, "", rep)
	r.Equal(lifecycle.OutcomeConverged, rep.Outcome)
	r.Len(rep.Nodes, 3)
	r.Equal([]string{"test-coordinator", "test-worker-1", "test-worker-2"}, b.sup.Running())
	r.Len(b.eng.Nodes(), 2)
}

func TestServiceConvergeNoTopology(t *testing.T) {
	b := newBench("")

	r, res := api.TestCallCode(t, b.svc.ServeHTTP, "/api/v1/converge", http.MethodPost, "", 400, nil)
	r.Equal(api.ErrorBadData, res.ErrorType)
	r.Equal(0, supCalls(b.sup))
}

func TestServiceRejectsConcurrentMutations(t *testing.T) {
	b := loadedBench(t)

	// simulate an operation in flight
	b.svc.busy <- struct{}{}
	defer func() { <-b.svc.busy }()

	var calls = []struct {
		uri    string
		method string
		data   string
	}{
		{"/api/v1/converge", http.MethodPost, ""},
		{"/api/v1/workers", http.MethodPost, ""},
		{"/api/v1/workers/test-worker-2", http.MethodDelete, ""},
		{"/api/v1/resize", http.MethodPost, `{"count":1}`},
		{"/api/v1/rebalance", http.MethodPost, ""},
	}
	for _, cs := range calls {
		r, res := api.TestCallCode(t, b.svc.ServeHTTP, cs.uri, cs.method, cs.data, 409, nil)
		r.Equal(api.ErrorConflict, res.ErrorType)
	}
}

func TestServicePlan(t *testing.T) {
	b := loadedBench(t)

	plan := &generate.Plan{}
	r, _ := api.TestCall(t, b.svc.ServeHTTP, "/api/v1/plan", http.MethodGet, "", plan)
	r.Len(plan.Nodes, 3)
	r.NotEmpty(plan.Hash)
	r.Equal("test-coordinator", plan.Nodes[0].Name)
	// the plan is read only
	r.Equal(0, supCalls(b.sup))
	r.Equal(0, b.eng.MutationCalls())
}

func TestServiceCluster(t *testing.T) {
	b := loadedBench(t)

	api.TestCall(t, b.svc.ServeHTTP, "/api/v1/converge", http.MethodPost, "", &lifecycle.Report{})

	view := &ClusterView{}
	r, _ := api.TestCall(t, b.svc.ServeHTTP, "/api/v1/cluster", http.MethodGet, "", view)
	r.True(view.InSync)
	r.Equal(view.PlanHash, view.AppliedHash)
	r.Len(view.Nodes, 3)

	coord := view.Nodes[0]
	r.Equal("test-coordinator", coord.Name)
	r.Equal(supervisor.StatusRunning, coord.Runtime)

	for _, n := range view.Nodes[1:] {
		r.Equal(generate.RoleWorker, n.Role)
		r.Equal(supervisor.StatusRunning, n.Runtime)
		r.True(n.Registered)
		r.True(n.Active)
		r.Equal(register.StateRegistered, n.Membership)
		r.False(n.Orphan)
	}

	// a node whose runtime degrades shows up on the next view
	b.sup.SetStatus("test-worker-2", supervisor.StatusUnknown)
	view = &ClusterView{}
	r, _ = api.TestCall(t, b.svc.ServeHTTP, "/api/v1/cluster", http.MethodGet, "", view)
	r.Equal(supervisor.StatusUnknown, view.Nodes[2].Runtime)
	r.True(view.Nodes[2].Registered)
}

func TestServiceClusterShowsOrphans(t *testing.T) {
	b := loadedBench(t)

	// a runtime of a worker the topology does not contain
	plan, err := b.gen.Plan(mustParse(t, `
name: test
coordinator: {}
workerCount: 3
credentials:
  user: shoal
  password: secret
  database: app
`))
	require.NoError(t, err)
	require.NoError(t, b.sup.Start(context.TODO(), &plan.Nodes[3]))

	view := &ClusterView{}
	r, _ := api.TestCall(t, b.svc.ServeHTTP, "/api/v1/cluster", http.MethodGet, "", view)
	r.False(view.InSync)
	r.Len(view.Nodes, 4)

	last := view.Nodes[3]
	r.Equal("test-worker-3", last.Name)
	r.True(last.Orphan)
	r.Equal(supervisor.StatusRunning, last.Runtime)

	// planned but never started nodes read as stopped
	r.Equal(supervisor.StatusStopped, view.Nodes[0].Runtime)
}

func TestServiceAddWorker(t *testing.T) {
	b := loadedBench(t)

	res := &MutationResult{}
	r, _ := api.TestCall(t, b.svc.ServeHTTP, "/api/v1/workers", http.MethodPost, "", res)
	r.Equal(lifecycle.OutcomeConverged, res.Report.Outcome)
	r.NotEmpty(res.Topology)

	next, err := topology.Parse([]byte(res.Topology))
	r.NoError(err)
	r.Len(next.Workers, 3)
	r.Len(b.manager.Info().Topology.Workers, 3)

	// explicit spec fields are honored
	res = &MutationResult{}
	r, _ = api.TestCall(t, b.svc.ServeHTTP, "/api/v1/workers", http.MethodPost, `{"host":"db-extra","port":6000}`, res)
	next, err = topology.Parse([]byte(res.Topology))
	r.NoError(err)
	r.Len(next.Workers, 4)
	r.Equal("db-extra", next.Workers[3].Host)
	r.Equal(6000, next.Workers[3].Port)
}

func TestServiceRemoveWorker(t *testing.T) {
	b := loadedBench(t)
	api.TestCall(t, b.svc.ServeHTTP, "/api/v1/converge", http.MethodPost, "", &lifecycle.Report{})

	// only the highest index may go
	r, res := api.TestCallCode(t, b.svc.ServeHTTP, "/api/v1/workers/test-worker-1", http.MethodDelete, "", 400, nil)
	r.Equal(api.ErrorBadData, res.ErrorType)

	r, res = api.TestCallCode(t, b.svc.ServeHTTP, "/api/v1/workers/test-worker-9", http.MethodDelete, "", 404, nil)
	r.Equal(api.ErrorNotFound, res.ErrorType)

	out := &MutationResult{}
	r, _ = api.TestCall(t, b.svc.ServeHTTP, "/api/v1/workers/test-worker-2", http.MethodDelete, "", out)
	r.Equal(lifecycle.OutcomeConverged, out.Report.Outcome)
	r.Len(b.manager.Info().Topology.Workers, 1)
	r.Equal([]string{"test-coordinator", "test-worker-1"}, b.sup.Running())
}

func TestServiceResize(t *testing.T) {
	b := loadedBench(t)

	res := &MutationResult{}
	r, _ := api.TestCall(t, b.svc.ServeHTTP, "/api/v1/resize", http.MethodPost, `{"count":4}`, res)
	r.Equal(lifecycle.OutcomeConverged, res.Report.Outcome)
	r.Len(b.manager.Info().Topology.Workers, 4)

	// count is required, an empty body is not a resize to zero
	r, out := api.TestCallCode(t, b.svc.ServeHTTP, "/api/v1/resize", http.MethodPost, "", 400, nil)
	r.Equal(api.ErrorBadData, out.ErrorType)

	r, out = api.TestCallCode(t, b.svc.ServeHTTP, "/api/v1/resize", http.MethodPost, `{"count":-1}`, 400, nil)
	r.Equal(api.ErrorBadData, out.ErrorType)
}

func TestServiceRebalance(t *testing.T) {
	b := loadedBench(t)
	api.TestCall(t, b.svc.ServeHTTP, "/api/v1/converge", http.MethodPost, "", &lifecycle.Report{})

	res := &RebalanceResult{}
	r, _ := api.TestCall(t, b.svc.ServeHTTP, "/api/v1/rebalance", http.MethodPost, "", res)
	r.NotEmpty(res.Job)
	r.Equal(engine.StrategyByDiskSize, b.eng.LastStrategy())

	// the job advances from running to done
	st := &RebalanceStatusResult{}
	r, _ = api.TestCall(t, b.svc.ServeHTTP, "/api/v1/rebalance/"+res.Job, http.MethodGet, "", st)
	r.Equal(engine.RebalanceRunning, st.State)

	r, _ = api.TestCall(t, b.svc.ServeHTTP, "/api/v1/rebalance/"+res.Job, http.MethodGet, "", st)
	r.Equal(engine.RebalanceDone, st.State)
	r.True(st.State.Finished())
}

func TestServiceLogs(t *testing.T) {
	r := require.New(t)
	b := loadedBench(t)
	b.sup.SetLogs("test-worker-1", "log line 1\nlog line 2\n")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nodes/test-worker-1/logs", nil)
	w := httptest.NewRecorder()
	b.svc.ServeHTTP(w, req)
	r.Equal(200, w.Code)
	r.Empty(w.Header().Get("Content-Encoding"))
	r.Equal("log line 1\nlog line 2\n", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/nodes/test-worker-1/logs?tail=10", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w = httptest.NewRecorder()
	b.svc.ServeHTTP(w, req)
	r.Equal(200, w.Code)
	r.Equal("gzip", w.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(w.Body)
	r.NoError(err)
	data, err := ioutil.ReadAll(gz)
	r.NoError(err)
	r.Equal("log line 1\nlog line 2\n", string(data))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/nodes/test-worker-1/logs?tail=x", nil)
	w = httptest.NewRecorder()
	b.svc.ServeHTTP(w, req)
	r.Equal(400, w.Code)

	b.sup.ScriptError("Logs", "test-worker-1", fmt.Errorf("no such node"))
	req = httptest.NewRequest(http.MethodGet, "/api/v1/nodes/test-worker-1/logs", nil)
	w = httptest.NewRecorder()
	b.svc.ServeHTTP(w, req)
	r.Equal(404, w.Code)
}

func TestServiceReloadTopology(t *testing.T) {
	r := require.New(t)

	file := path.Join(t.TempDir(), "topology.yaml")
	r.NoError(ioutil.WriteFile(file, []byte(testTopology), 0755))

	b := newBench(file)
	r.Nil(b.manager.Info())

	api.TestCall(t, b.svc.ServeHTTP, "/-/reload", http.MethodPost, "", nil)
	r.NotNil(b.manager.Info())
	r.Equal("test", b.manager.Info().Topology.Name)

	ret := map[string]string{}
	r2, _ := api.TestCall(t, b.svc.ServeHTTP, "/api/v1/status/topology", http.MethodGet, "", &ret)
	r2.Contains(ret["yaml"], "workerCount: 2")

	// reload without a backing file is rejected
	noFile := newBench("")
	r2, res := api.TestCallCode(t, noFile.svc.ServeHTTP, "/-/reload", http.MethodPost, "", 400, nil)
	r2.Equal(api.ErrorBadData, res.ErrorType)

	r2, res = api.TestCallCode(t, noFile.svc.ServeHTTP, "/api/v1/status/topology", http.MethodGet, "", 404, nil)
	r2.Equal(api.ErrorNotFound, res.ErrorType)
}

func TestServiceMetrics(t *testing.T) {
	r := require.New(t)
	b := loadedBench(t)

	api.TestCall(t, b.svc.ServeHTTP, "/api/v1/converge", http.MethodPost, "", &lifecycle.Report{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	b.svc.ServeHTTP(w, req)
	r.Equal(200, w.Code)
	r.Contains(w.Body.String(), "shoal_lifecycle_operation_total")
}

func supCalls(f *supervisor.Fake) int {
	total := 0
	for _, m := range []string{"Start", "Stop", "Status", "Logs", "List"} {
		total += f.Calls(m)
	}
	return total
}

func mustParse(t *testing.T, raw string) *topology.Topology {
	tp, err := topology.Parse([]byte(raw))
	require.NoError(t, err)
	return tp
}
