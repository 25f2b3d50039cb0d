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

package register

import (
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"

	"github.com/shoal-db/shoal/pkg/topology"
)

// State is the membership state of one worker as this control plane tracks it
// the live node list of the coordinator always wins over the tracked state
type State string

const (
	// StateUnregistered means the coordinator does not know the worker yet
	StateUnregistered State = "unregistered"
	// StateRegistering means a registration is in flight
	StateRegistering State = "registering"
	// StateRegistered means the coordinator accepted the worker
	StateRegistered State = "registered"
	// StateDrainRequested means removal was asked for but draining has not started
	StateDrainRequested State = "drainRequested"
	// StateDraining means shards are moving off the worker
	StateDraining State = "draining"
	// StateRemoved means the coordinator no longer knows the worker, the
	// record is dropped on this transition so it never persists
	StateRemoved State = "removed"
	// StateFailed means the last operation gave up, LastError says why
	StateFailed State = "failed"
)

// Record is the tracked membership of one worker
// it is a hint, the coordinator's live node list is authoritative
type Record struct {
	Addr  topology.NodeAddr `json:"addr"`
	State State             `json:"state"`
	// Attempts is how many engine calls the last registration needed
	Attempts int `json:"attempts"`
	// LastError keeps the cause of the last failure, empty on success
	LastError string `json:"lastError,omitempty"`
	// UpdatedAt is when the state last changed
	UpdatedAt time.Time `json:"updatedAt"`
}

// DrainStallError means a drain did not finish inside its budget
// the worker is marked failed and needs an operator to look at it
type DrainStallError struct {
	Addr topology.NodeAddr
	// Remaining is the shard count seen by the last poll, -1 if no poll succeeded
	Remaining int
	// Elapsed is how long the drain was given
	Elapsed time.Duration
}

// Error implement the error interface
func (e *DrainStallError) Error() string {
	return fmt.Sprintf("drain of %s stalled after %s, %d shards remain", e.Addr, e.Elapsed, e.Remaining)
}

// IsDrainStall return true if err is or wraps a DrainStallError
func IsDrainStall(err error) bool {
	target := &DrainStallError{}
	return errors.As(err, &target)
}

const (
	// DefaultRegisterAttempts bounds registration retries against one worker
	DefaultRegisterAttempts = 5
	// DefaultRegisterDelay is the first retry delay, it doubles every attempt
	DefaultRegisterDelay = time.Millisecond * 500
	// DefaultDrainPollInterval is how often a draining worker is polled
	DefaultDrainPollInterval = time.Second * 10
	// DefaultDrainTimeout is the drain budget before the removal reports a stall
	DefaultDrainTimeout = time.Minute * 30
)

// Config tune the orchestrator, the zero value uses the defaults
type Config struct {
	// RegisterAttempts bounds registration retries
	RegisterAttempts int
	// RegisterDelay is the backoff seed of registration retries
	RegisterDelay time.Duration
	// DrainPollInterval is the time between shard count polls
	DrainPollInterval time.Duration
	// DrainTimeout is the total drain budget
	DrainTimeout time.Duration
	// Clock is swappable for tests
	Clock clock.Clock
}

func (c *Config) withDefaults() {
	if c.RegisterAttempts == 0 {
		c.RegisterAttempts = DefaultRegisterAttempts
	}
	if c.RegisterDelay == 0 {
		c.RegisterDelay = DefaultRegisterDelay
	}
	if c.DrainPollInterval == 0 {
		c.DrainPollInterval = DefaultDrainPollInterval
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
}
