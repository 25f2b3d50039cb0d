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

package supervisor

import (
	"context"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"sync"

	"github.com/shoal-db/shoal/pkg/generate"
)

// Fake is an in memory Supervisor for tests
type Fake struct {
	mu sync.Mutex

	nodes  map[string]*fakeNode
	calls  map[string]int
	script map[string][]error
	logs   map[string]string
}

type fakeNode struct {
	def    generate.NodeDefinition
	status Status
}

// NewFake return an empty fake supervisor
func NewFake() *Fake {
	return &Fake{
		nodes:  map[string]*fakeNode{},
		calls:  map[string]int{},
		script: map[string][]error{},
		logs:   map[string]string{},
	}
}

// ScriptError make the next calls of method on name return the given errors in order
func (f *Fake) ScriptError(method, name string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + "/" + name
	f.script[key] = append(f.script[key], errs...)
}

// SetStatus override the reported status of one node
func (f *Fake) SetStatus(name string, st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[name]; ok {
		n.status = st
	}
}

// SetLogs set the log content Logs returns for one node
func (f *Fake) SetLogs(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[name] = content
}

// Calls return how many times the method was invoked
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Running return the names of all known nodes in sorted order
func (f *Fake) Running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]string, 0, len(f.nodes))
	for name := range f.nodes {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Definition return the stored definition of one node, nil if unknown
func (f *Fake) Definition(name string) *generate.NodeDefinition {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[name]
	if !ok {
		return nil
	}
	d := n.def
	return &d
}

func (f *Fake) pop(method, name string) error {
	key := method + "/" + name
	script := f.script[key]
	if len(script) == 0 {
		return nil
	}
	f.script[key] = script[1:]
	return script[0]
}

// Start implement Supervisor
func (f *Fake) Start(ctx context.Context, node *generate.NodeDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Start"]++
	if err := f.pop("Start", node.Name); err != nil {
		return err
	}
	f.nodes[node.Name] = &fakeNode{def: *node, status: StatusRunning}
	return nil
}

// Stop implement Supervisor
func (f *Fake) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Stop"]++
	if err := f.pop("Stop", name); err != nil {
		return err
	}
	delete(f.nodes, name)
	return nil
}

// Status implement Supervisor
func (f *Fake) Status(ctx context.Context, name string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Status"]++
	if err := f.pop("Status", name); err != nil {
		return StatusUnknown, err
	}
	n, ok := f.nodes[name]
	if !ok {
		return StatusStopped, nil
	}
	return n.status, nil
}

// Logs implement Supervisor
func (f *Fake) Logs(ctx context.Context, name string, tailLines int64) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Logs"]++
	if err := f.pop("Logs", name); err != nil {
		return nil, err
	}
	return ioutil.NopCloser(strings.NewReader(f.logs[name])), nil
}

// List implement Supervisor
func (f *Fake) List(ctx context.Context) ([]Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["List"]++
	if err := f.pop("List", ""); err != nil {
		return nil, err
	}

	ret := make([]Handle, 0, len(f.nodes))
	for _, n := range f.nodes {
		ret = append(ret, Handle{
			Name:  n.def.Name,
			Role:  n.def.Role,
			Index: n.def.Index,
			Addr:  n.def.Addr,
		})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}
