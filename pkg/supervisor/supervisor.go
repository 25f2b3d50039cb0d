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

// Package supervisor define how node runtimes are started, stopped and
// observed, it never talks to the database engine
package supervisor

import (
	"context"
	"io"

	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/topology"
)

// Status is the runtime state of one node as the supervisor sees it
// it says nothing about database readiness, the prober decides that
type Status string

const (
	// StatusRunning means the runtime exists and is up
	StatusRunning Status = "running"
	// StatusStopped means no runtime exists for the node
	StatusStopped Status = "stopped"
	// StatusUnknown means a runtime exists but its state can not be decided
	StatusUnknown Status = "unknown"
)

// Handle identify one node runtime the supervisor manages
type Handle struct {
	// Name is the node name from the generated plan
	Name string
	// Role is coordinator or worker
	Role generate.Role
	// Index is the worker index, 0 for the coordinator
	Index int
	// Addr is the address the node serves on
	Addr topology.NodeAddr
}

// Supervisor manage node runtimes
// Start must be idempotent, starting a node that is already running
// adopts it instead of failing
type Supervisor interface {
	// Start ensure a runtime exists for the node definition
	Start(ctx context.Context, node *generate.NodeDefinition) error
	// Stop tear down the runtime of the named node, unknown names are no-ops
	Stop(ctx context.Context, name string) error
	// Status report the runtime state of the named node
	Status(ctx context.Context, name string) (Status, error)
	// Logs return the last tailLines lines of the node log, the caller closes the reader
	Logs(ctx context.Context, name string, tailLines int64) (io.ReadCloser, error)
	// List return a handle for every node runtime of this cluster
	List(ctx context.Context) ([]Handle, error)
}
