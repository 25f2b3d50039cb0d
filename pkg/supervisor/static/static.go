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

// Package static supervise nodes whose processes are managed outside the
// control plane, start and stop only track membership
package static

import (
	"context"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/supervisor"
)

// Supervisor track externally managed node runtimes
// Status is decided by dialing the node port, nothing is ever started
// or killed by this supervisor
type Supervisor struct {
	lk    sync.Mutex
	nodes map[string]supervisor.Handle
	lg    logrus.FieldLogger
	dial  func(addr string) error
}

// New create a static supervisor with an empty node set
func New(log logrus.FieldLogger) *Supervisor {
	return &Supervisor{
		nodes: map[string]supervisor.Handle{},
		lg:    log,
		dial: func(addr string) error {
			conn, err := net.DialTimeout("tcp", addr, time.Second*3)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}

// Start implement supervisor.Supervisor
// the process itself must be started by the operator, only membership is recorded
func (s *Supervisor) Start(ctx context.Context, node *generate.NodeDefinition) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	s.nodes[node.Name] = supervisor.Handle{
		Name:  node.Name,
		Role:  node.Role,
		Index: node.Index,
		Addr:  node.Addr,
	}
	s.lg.Infof("%s is managed externally, expecting it at %s", node.Name, node.Addr)
	return nil
}

// Stop implement supervisor.Supervisor
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if _, ok := s.nodes[name]; ok {
		delete(s.nodes, name)
		s.lg.Infof("%s is managed externally, its process must be stopped by the operator", name)
	}
	return nil
}

// Status implement supervisor.Supervisor
// a closed port means stopped, a dial timeout means the state is unknown
func (s *Supervisor) Status(ctx context.Context, name string) (supervisor.Status, error) {
	s.lk.Lock()
	h, ok := s.nodes[name]
	dial := s.dial
	s.lk.Unlock()

	if !ok {
		return supervisor.StatusStopped, nil
	}

	err := dial(h.Addr.String())
	if err == nil {
		return supervisor.StatusRunning, nil
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return supervisor.StatusUnknown, nil
	}
	return supervisor.StatusStopped, nil
}

// Logs implement supervisor.Supervisor
func (s *Supervisor) Logs(ctx context.Context, name string, tailLines int64) (io.ReadCloser, error) {
	return nil, errors.Errorf("logs of %s are not reachable, the node is managed externally", name)
}

// List implement supervisor.Supervisor
func (s *Supervisor) List(ctx context.Context) ([]supervisor.Handle, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	ret := make([]supervisor.Handle, 0, len(s.nodes))
	for _, h := range s.nodes {
		ret = append(ret, h)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}
