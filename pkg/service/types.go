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
	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/lifecycle"
	"github.com/shoal-db/shoal/pkg/register"
	"github.com/shoal-db/shoal/pkg/supervisor"
	"github.com/shoal-db/shoal/pkg/topology"
)

// AddWorkerRequest is the body of POST /api/v1/workers
// empty fields fall back to the derived defaults of the next free index
type AddWorkerRequest struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// ResizeRequest is the body of POST /api/v1/resize
// Count is a pointer so that resizing to zero workers stays expressible
type ResizeRequest struct {
	Count *int `json:"count" binding:"required"`
}

// MutationResult is the response of calls that change the topology
type MutationResult struct {
	Report *lifecycle.Report `json:"report"`
	// Topology is the yaml of the topology after the operation, callers
	// persist it to keep their topology file in step with the cluster
	Topology string `json:"topology,omitempty"`
}

// RebalanceResult is the response of POST /api/v1/rebalance
type RebalanceResult struct {
	// Job identifies the started redistribution run for status polling
	Job string `json:"job"`
}

// RebalanceStatusResult is the response of GET /api/v1/rebalance/:job
type RebalanceStatusResult struct {
	Job   string                `json:"job"`
	State engine.RebalanceState `json:"state"`
}

// ClusterNode is one node of the merged cluster view
type ClusterNode struct {
	Name string            `json:"name"`
	Role generate.Role     `json:"role"`
	Addr topology.NodeAddr `json:"addr"`
	// Runtime is what the supervisor reports for the node
	Runtime supervisor.Status `json:"runtime"`
	// Registered mirrors the coordinator's live node list
	Registered bool `json:"registered"`
	// Active is the engine's own health flag of a registered node
	Active bool `json:"active,omitempty"`
	// Membership is the tracked registration state of a worker, empty when untracked
	Membership register.State `json:"membership,omitempty"`
	LastError  string         `json:"lastError,omitempty"`
	// Orphan marks a running node the current plan does not contain,
	// the next converge would remove it
	Orphan bool `json:"orphan,omitempty"`
}

// ClusterView merges the generated plan with everything observable,
// the supervisor's runtimes, the coordinator's node list and the
// tracked membership records
type ClusterView struct {
	PlanHash    string `json:"planHash"`
	AppliedHash string `json:"appliedHash,omitempty"`
	// InSync is true when the current plan is the last fully applied one
	InSync bool `json:"inSync"`
	// EngineError is set when the coordinator could not be asked for its node list
	EngineError string        `json:"engineError,omitempty"`
	Nodes       []ClusterNode `json:"nodes"`
}
