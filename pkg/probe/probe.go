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

// Package probe decide node health from engine checks and wait for
// readiness with bounded backoff
package probe

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/topology"
)

// Result is the health of one node at one probe
type Result string

const (
	// Ready means the node accepted a connection and answered a query
	Ready Result = "ready"
	// NotReady means the node answered but is still initializing
	NotReady Result = "notReady"
	// Unreachable means the node could not be reached at all
	Unreachable Result = "unreachable"
)

const (
	// DefaultDelay is the first retry delay of WaitReady, it doubles every
	// attempt until DefaultMaxDelay
	DefaultDelay = time.Second
	// DefaultMaxDelay caps the backoff between probes
	DefaultMaxDelay = time.Second * 30
	// DefaultWaitTimeout bounds WaitReady when the caller gives no budget
	DefaultWaitTimeout = time.Minute * 5
)

// TimeoutError means WaitReady used up its budget, it keeps the last
// observation so reports can say how the node looked when waiting stopped
type TimeoutError struct {
	Addr topology.NodeAddr
	Last Result
	// Cause is the last probe error, nil only if no probe ever ran
	Cause error
}

// Error implement the error interface
func (e *TimeoutError) Error() string {
	if e.Cause == nil {
		return errors.Errorf("%s did not become ready, last state %s", e.Addr, e.Last).Error()
	}
	return errors.Errorf("%s did not become ready, last state %s: %s", e.Addr, e.Last, e.Cause.Error()).Error()
}

// IsTimeout return true if err is or wraps a TimeoutError
func IsTimeout(err error) bool {
	target := &TimeoutError{}
	return errors.As(err, &target)
}

// Config tune the wait loop, the zero value uses the defaults
type Config struct {
	// Delay is the backoff seed
	Delay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
	// Clock is swappable for tests
	Clock clock.Clock
}

// Prober classify node health and wait for readiness
type Prober struct {
	checker engine.Checker
	lg      logrus.FieldLogger

	delay    time.Duration
	maxDelay time.Duration
	clock    clock.Clock
}

// New create a prober from a node checker
func New(checker engine.Checker, cfg Config, log logrus.FieldLogger) *Prober {
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	return &Prober{
		checker:  checker,
		lg:       log,
		delay:    cfg.Delay,
		maxDelay: cfg.MaxDelay,
		clock:    cfg.Clock,
	}
}

// Probe check the node once and classify the outcome
// the error carries the cause for NotReady and Unreachable, it is nil for Ready
func (p *Prober) Probe(ctx context.Context, addr topology.NodeAddr) (Result, error) {
	err := p.checker.Check(ctx, addr)
	if err == nil {
		return Ready, nil
	}
	if engine.IsNotReady(err) {
		return NotReady, err
	}
	return Unreachable, err
}

// WaitReady probe the node until it is ready or the budget is used up
// probes back off exponentially, a used up budget returns a TimeoutError
func (p *Prober) WaitReady(ctx context.Context, addr topology.NodeAddr, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	var last Result
	var lastErr error

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			res, err := p.Probe(ctx, addr)
			last, lastErr = res, err
			if res == Ready {
				return nil
			}
			return err
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			p.lg.Debugf("waiting for %s, attempt %d: %s", addr, attempt, err.Error())
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       p.delay,
		MaxDelay:    p.maxDelay,
		MaxDuration: timeout,
		BackoffFunc: retry.DoubleDelay,
		Clock:       p.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if retry.IsDurationExceeded(err) || retry.IsRetryStopped(err) {
		return &TimeoutError{Addr: addr, Last: last, Cause: lastErr}
	}
	return err
}
