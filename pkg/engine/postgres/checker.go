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

package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/topology"
)

// Checker implement engine.Checker by dialing each node directly
// every check uses a fresh connection so a node restart can not be
// masked by a pooled connection
type Checker struct {
	creds   topology.Credentials
	sslMode string
	timeout time.Duration

	// open is swappable for testing
	open func(dsn string) (*sql.DB, error)
}

// NewChecker create a Checker that authenticates with the cluster credentials
func NewChecker(creds topology.Credentials) *Checker {
	return &Checker{
		creds:   creds,
		sslMode: "disable",
		timeout: time.Second * 3,
		open: func(d string) (*sql.DB, error) {
			return sql.Open("postgres", d)
		},
	}
}

// Check implement engine.Checker
// nil means the node accepts connections and answers a trivial query,
// NotReadyError means the server answered but is still initializing,
// any other error means the node could not be reached
func (c *Checker) Check(ctx context.Context, addr topology.NodeAddr) error {
	db, err := c.open(dsn(addr.Host, addr.Port, c.creds, c.sslMode, c.timeout))
	if err != nil {
		return errors.Wrapf(err, "open %s", addr)
	}
	defer func() { _ = db.Close() }()

	var one int
	if err := db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return classifyCheck(addr, err)
	}
	return nil
}

// classifyCheck separate still starting from unreachable
func classifyCheck(addr topology.NodeAddr, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "57P03":
			// cannot_connect_now, the server is starting up or shutting down
			return &engine.NotReadyError{Detail: pqErr.Message}
		case "53300":
			// too_many_connections, the server is up but saturated
			return &engine.NotReadyError{Detail: pqErr.Message}
		}
		return errors.Wrapf(err, "check %s", addr)
	}
	return errors.Wrapf(err, "dial %s", addr)
}
