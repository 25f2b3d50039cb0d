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

package topology

import (
	"fmt"
	"io/ioutil"
	"net"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultClusterName is used when the topology file does not name the cluster
	DefaultClusterName = "shoal"
	// DefaultPortBase is the port the coordinator listens on and the base of worker port assignment
	DefaultPortBase = 5432
)

// NodeAddr is the network identity of one node
// it is the identity the coordinator knows workers by
type NodeAddr struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// String return "host:port" of this address
func (a NodeAddr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Empty return true if this address carries no information
func (a NodeAddr) Empty() bool {
	return a.Host == "" && a.Port == 0
}

// Credentials is the database access information shared by all nodes of one topology
type Credentials struct {
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
}

// CoordinatorSpec describe the single coordinator of one cluster
type CoordinatorSpec struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Addr return the NodeAddr of the coordinator
func (c *CoordinatorSpec) Addr() NodeAddr {
	return NodeAddr{Host: c.Host, Port: c.Port}
}

// WorkerSpec describe one worker of the topology
// Index is the immutable identity of the worker within this topology generation,
// it decides naming and port offset, not data distribution
type WorkerSpec struct {
	Index int    `yaml:"index" json:"index"`
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
}

// Addr return the NodeAddr of this worker
func (w *WorkerSpec) Addr() NodeAddr {
	return NodeAddr{Host: w.Host, Port: w.Port}
}

// Topology is the declarative desired end state of one cluster
type Topology struct {
	// Name is the cluster name, all node names derive from it
	Name string `yaml:"name" json:"name"`
	// Coordinator is optional, a worker only topology is attached to an external coordinator
	Coordinator *CoordinatorSpec `yaml:"coordinator,omitempty" json:"coordinator,omitempty"`
	// Workers is ordered by Index, indices must be a contiguous 1..N range
	Workers []WorkerSpec `yaml:"workers,omitempty" json:"workers,omitempty"`
	// Credentials is shared across all nodes of the topology
	Credentials Credentials `yaml:"credentials" json:"credentials"`
	// PortBase is the base of the worker port assignment rule, worker i gets PortBase + i
	PortBase int `yaml:"portBase,omitempty" json:"portBase,omitempty"`
	// WorkerCount materializes Workers when the explicit list is empty
	WorkerCount int `yaml:"workerCount,omitempty" json:"workerCount,omitempty"`
	// ShardCountHint only affects the rebalance strategy choice, never node generation
	ShardCountHint int `yaml:"shardCountHint,omitempty" json:"shardCountHint,omitempty"`
	// ReplicationFactor is passed through to the coordinator, not interpreted locally
	ReplicationFactor int `yaml:"replicationFactor,omitempty" json:"replicationFactor,omitempty"`
}

// Load read a topology file, normalize and validate it
func Load(file string) (*Topology, error) {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read topology file")
	}
	return Parse(data)
}

// Parse unmarshal raw yaml content, normalize and validate it
func Parse(data []byte) (*Topology, error) {
	t := &Topology{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, errors.Wrapf(err, "wrong format of topology file")
	}

	t.Normalize()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Normalize fill derivable fields of the topology
// the explicit Workers list wins over WorkerCount, worker host defaults to the
// node name and worker port defaults to PortBase + Index
func (t *Topology) Normalize() {
	if t.Name == "" {
		t.Name = DefaultClusterName
	}

	if t.PortBase == 0 {
		t.PortBase = DefaultPortBase
	}

	if len(t.Workers) == 0 && t.WorkerCount > 0 {
		for i := 1; i <= t.WorkerCount; i++ {
			t.Workers = append(t.Workers, WorkerSpec{Index: i})
		}
	}

	for i := range t.Workers {
		w := &t.Workers[i]
		if w.Host == "" {
			w.Host = fmt.Sprintf("%s-worker-%d", t.Name, w.Index)
		}
		if w.Port == 0 {
			w.Port = t.PortBase + w.Index
		}
	}

	if t.Coordinator != nil {
		if t.Coordinator.Host == "" {
			t.Coordinator.Host = fmt.Sprintf("%s-coordinator", t.Name)
		}
		if t.Coordinator.Port == 0 {
			t.Coordinator.Port = t.PortBase
		}
	}

	sort.SliceStable(t.Workers, func(i, j int) bool {
		return t.Workers[i].Index < t.Workers[j].Index
	})
}

// Clone return a deep copy of the topology
func (t *Topology) Clone() *Topology {
	n := *t
	if t.Coordinator != nil {
		c := *t.Coordinator
		n.Coordinator = &c
	}
	n.Workers = make([]WorkerSpec, len(t.Workers))
	copy(n.Workers, t.Workers)
	return &n
}

// WorkerAddrs return the addresses of all workers in index order
func (t *Topology) WorkerAddrs() []NodeAddr {
	ret := make([]NodeAddr, 0, len(t.Workers))
	for i := range t.Workers {
		ret = append(ret, t.Workers[i].Addr())
	}
	return ret
}

// NextIndex return the index the next added worker should use
func (t *Topology) NextIndex() int {
	max := 0
	for i := range t.Workers {
		if t.Workers[i].Index > max {
			max = t.Workers[i].Index
		}
	}
	return max + 1
}
