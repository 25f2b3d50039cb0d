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

package generate

import (
	"fmt"
	"strconv"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/shoal-db/shoal/pkg/topology"
	"github.com/shoal-db/shoal/pkg/utils/encode"
)

// Role marks what a node is for the coordinator
type Role string

const (
	// RoleCoordinator is the single metadata node of the cluster
	RoleCoordinator Role = "coordinator"
	// RoleWorker is a data holding node registered with the coordinator
	RoleWorker Role = "worker"
)

const (
	// DefaultImage is the engine image used when the caller does not set one
	DefaultImage = "citusdata/citus:11.2.0"

	// LabelCluster marks which cluster a node belongs to
	LabelCluster = "shoal.io/cluster"
	// LabelRole marks the node role
	LabelRole = "shoal.io/role"
	// LabelIndex marks the worker index, "0" for the coordinator
	LabelIndex = "shoal.io/index"
)

// NodeDefinition is the concrete runnable definition of one node
// definitions are created fresh on every generation run and never mutated in place
type NodeDefinition struct {
	// Name derives deterministically from cluster name, role and index
	Name string `yaml:"name" json:"name"`
	Role Role   `yaml:"role" json:"role"`
	// Index is the worker index, 0 for the coordinator
	Index int               `yaml:"index" json:"index"`
	Addr  topology.NodeAddr `yaml:"addr" json:"addr"`
	Image string            `yaml:"image" json:"image"`
	// Environment carries credentials and role tuning keys for the engine entrypoint
	Environment map[string]string `yaml:"environment" json:"environment"`
	// Labels identify the node to supervisors
	Labels map[string]string `yaml:"labels" json:"labels"`
}

// Plan is the full generator output for one topology
type Plan struct {
	// Nodes is ordered, coordinator first then workers by ascending index
	Nodes []NodeDefinition `yaml:"nodes" json:"nodes"`
	// Hash is the content hash of Nodes, equal topologies produce equal hashes
	Hash string `yaml:"hash" json:"hash"`
}

// Options configure generation, they must not vary between runs that
// are expected to produce identical plans
type Options struct {
	// Image override the engine image of all nodes
	Image string
}

// Generator turns a validated topology into a Plan
// generation is pure, deterministic and safe to re run
type Generator struct {
	image string
}

// New create a Generator
func New(opts Options) *Generator {
	image := opts.Image
	if image == "" {
		image = DefaultImage
	}
	return &Generator{image: image}
}

// Plan emit the node definitions of the topology in deterministic order
// two calls with equal topology values produce byte identical plans
func (g *Generator) Plan(t *topology.Topology) (*Plan, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	nodes := make([]NodeDefinition, 0, len(t.Workers)+1)
	if t.Coordinator != nil {
		nodes = append(nodes, g.coordinatorDefinition(t))
	}
	for i := range t.Workers {
		nodes = append(nodes, g.workerDefinition(t, &t.Workers[i]))
	}

	// a hash failure here is a programming error, callers treat it as fatal
	sum, err := hashstructure.Hash(nodes, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "hash node definitions")
	}

	return &Plan{Nodes: nodes, Hash: encode.Uint64(sum)}, nil
}

func (g *Generator) coordinatorDefinition(t *topology.Topology) NodeDefinition {
	env := g.commonEnvironment(t)
	env["SHOAL_ROLE"] = string(RoleCoordinator)
	if t.ReplicationFactor > 0 {
		// forwarded to the engine entrypoint, never interpreted locally
		env["SHOAL_REPLICATION_FACTOR"] = strconv.Itoa(t.ReplicationFactor)
	}

	return NodeDefinition{
		Name:        CoordinatorName(t.Name),
		Role:        RoleCoordinator,
		Index:       0,
		Addr:        t.Coordinator.Addr(),
		Image:       g.image,
		Environment: env,
		Labels:      labels(t.Name, RoleCoordinator, 0),
	}
}

func (g *Generator) workerDefinition(t *topology.Topology, w *topology.WorkerSpec) NodeDefinition {
	env := g.commonEnvironment(t)
	env["SHOAL_ROLE"] = string(RoleWorker)
	env["SHOAL_WORKER_INDEX"] = strconv.Itoa(w.Index)

	return NodeDefinition{
		Name:        WorkerName(t.Name, w.Index),
		Role:        RoleWorker,
		Index:       w.Index,
		Addr:        w.Addr(),
		Image:       g.image,
		Environment: env,
		Labels:      labels(t.Name, RoleWorker, w.Index),
	}
}

func (g *Generator) commonEnvironment(t *topology.Topology) map[string]string {
	return map[string]string{
		"POSTGRES_USER":     t.Credentials.User,
		"POSTGRES_PASSWORD": t.Credentials.Password,
		"POSTGRES_DB":       t.Credentials.Database,
	}
}

func labels(cluster string, role Role, index int) map[string]string {
	return map[string]string{
		LabelCluster: cluster,
		LabelRole:    string(role),
		LabelIndex:   strconv.Itoa(index),
	}
}

// CoordinatorName return the fixed name of the single coordinator
func CoordinatorName(cluster string) string {
	return fmt.Sprintf("%s-coordinator", cluster)
}

// WorkerName return the deterministic name of worker i
func WorkerName(cluster string, index int) string {
	return fmt.Sprintf("%s-worker-%d", cluster, index)
}

// Bytes serialize the plan, the output is byte identical for equal plans
func (p *Plan) Bytes() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal plan")
	}
	return data, nil
}

// Lookup return the definition with the given name, nil if absent
func (p *Plan) Lookup(name string) *NodeDefinition {
	for i := range p.Nodes {
		if p.Nodes[i].Name == name {
			return &p.Nodes[i]
		}
	}
	return nil
}

// Workers return only the worker definitions in ascending index order
func (p *Plan) Workers() []NodeDefinition {
	ret := make([]NodeDefinition, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.Role == RoleWorker {
			ret = append(ret, n)
		}
	}
	return ret
}

// Coordinator return the coordinator definition, nil for worker only plans
func (p *Plan) Coordinator() *NodeDefinition {
	for i := range p.Nodes {
		if p.Nodes[i].Role == RoleCoordinator {
			return &p.Nodes[i]
		}
	}
	return nil
}
