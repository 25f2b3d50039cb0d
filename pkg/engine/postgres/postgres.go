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

// Package postgres adapts the engine command surface to a Citus style
// distributed PostgreSQL coordinator over lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/topology"
)

// Config is the coordinator connection information
type Config struct {
	Host        string
	Port        int
	Credentials topology.Credentials
	// SSLMode defaults to disable
	SSLMode string
	// ConnectTimeout bounds connection establishment, defaults to 5s
	ConnectTimeout time.Duration
}

// Engine implement engine.Engine against one coordinator
// mutating calls are serialized, the coordinator's metadata is a single
// shared resource and its mutations must not interleave
type Engine struct {
	db *sql.DB
	lg logrus.FieldLogger

	// mutations guards every state changing call
	mutations sync.Mutex
}

// New open a connection pool to the coordinator
// the coordinator may not be up yet, connection failures surface on first use
func New(cfg Config, lg logrus.FieldLogger) (*Engine, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = time.Second * 5
	}

	db, err := sql.Open("postgres", dsn(cfg.Host, cfg.Port, cfg.Credentials, cfg.SSLMode, cfg.ConnectTimeout))
	if err != nil {
		return nil, errors.Wrapf(err, "open coordinator connection")
	}

	return &Engine{db: db, lg: lg}, nil
}

// Close release the connection pool
func (e *Engine) Close() error {
	return e.db.Close()
}

// RegisterNode implement engine.Engine
// an address the coordinator already knows is reported as success
func (e *Engine) RegisterNode(ctx context.Context, host string, port int) error {
	e.mutations.Lock()
	defer e.mutations.Unlock()

	_, err := e.db.ExecContext(ctx, `SELECT citus_add_node($1, $2)`, host, port)
	if err == nil {
		return nil
	}

	if alreadyRegistered(err) {
		nodes, lerr := e.listNodes(ctx)
		if lerr != nil {
			return classify(lerr)
		}
		known := engine.Lookup(nodes, topology.NodeAddr{Host: host, Port: port})
		if known != nil && known.Role == "worker" {
			e.lg.Debugf("%s:%d is already registered", host, port)
			return nil
		}
		return &engine.ConflictError{Host: host, Port: port, Detail: err.Error()}
	}

	return classify(err)
}

// DrainNode implement engine.Engine
// the node is marked to hold no shards and a drain job is started, the
// caller confirms completion by polling ShardCount
func (e *Engine) DrainNode(ctx context.Context, host string, port int) error {
	e.mutations.Lock()
	defer e.mutations.Unlock()

	_, err := e.db.ExecContext(ctx,
		`SELECT citus_set_node_property($1, $2, 'shouldhaveshards', false)`, host, port)
	if err != nil {
		return classify(err)
	}

	_, err = e.db.ExecContext(ctx, `SELECT citus_rebalance_start(drain_only => true)`)
	if err != nil && !rebalanceAlreadyRunning(err) {
		return classify(err)
	}
	return nil
}

// RemoveNode implement engine.Engine
// force disables the node first so the engine accepts removal with
// placements still on it
func (e *Engine) RemoveNode(ctx context.Context, host string, port int, force bool) error {
	e.mutations.Lock()
	defer e.mutations.Unlock()

	if force {
		_, err := e.db.ExecContext(ctx,
			`SELECT citus_disable_node($1, $2, synchronous => true)`, host, port)
		if err != nil {
			return classify(err)
		}
	}

	_, err := e.db.ExecContext(ctx, `SELECT citus_remove_node($1, $2)`, host, port)
	if err != nil {
		return classify(err)
	}
	return nil
}

// ListNodes implement engine.Engine
func (e *Engine) ListNodes(ctx context.Context) ([]engine.Node, error) {
	nodes, err := e.listNodes(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return nodes, nil
}

func (e *Engine) listNodes(ctx context.Context) ([]engine.Node, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT nodename, nodeport, isactive, groupid FROM pg_dist_node ORDER BY nodeid`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ret := make([]engine.Node, 0)
	for rows.Next() {
		var (
			n       engine.Node
			groupID int
		)
		if err := rows.Scan(&n.Host, &n.Port, &n.Active, &groupID); err != nil {
			return nil, err
		}
		n.Role = RoleOfGroup(groupID)
		ret = append(ret, n)
	}
	return ret, rows.Err()
}

// ShardCount implement engine.Engine
func (e *Engine) ShardCount(ctx context.Context, host string, port int) (int, error) {
	var count int
	err := e.db.QueryRowContext(ctx,
		`SELECT count(*) FROM pg_dist_placement p
		   JOIN pg_dist_node n ON p.groupid = n.groupid
		  WHERE n.nodename = $1 AND n.nodeport = $2`, host, port).Scan(&count)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// Rebalance implement engine.Engine
func (e *Engine) Rebalance(ctx context.Context, strategy string) (string, error) {
	e.mutations.Lock()
	defer e.mutations.Unlock()

	var (
		jobID int64
		err   error
	)
	if strategy == "" {
		err = e.db.QueryRowContext(ctx, `SELECT citus_rebalance_start()`).Scan(&jobID)
	} else {
		err = e.db.QueryRowContext(ctx,
			`SELECT citus_rebalance_start(rebalance_strategy => $1)`, strategy).Scan(&jobID)
	}
	if err != nil {
		return "", classify(err)
	}
	return strconv.FormatInt(jobID, 10), nil
}

// RebalanceStatus implement engine.Engine
// a job the engine no longer reports is treated as finished
func (e *Engine) RebalanceStatus(ctx context.Context, jobID string) (engine.RebalanceState, error) {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return "", errors.Wrapf(err, "bad rebalance job id %q", jobID)
	}

	var state string
	err = e.db.QueryRowContext(ctx,
		`SELECT state FROM citus_rebalance_status() WHERE job_id = $1`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return engine.RebalanceDone, nil
	}
	if err != nil {
		return "", classify(err)
	}
	return ParseRebalanceState(state), nil
}

// RoleOfGroup map a Citus group id to a node role, group 0 is the coordinator
func RoleOfGroup(groupID int) string {
	if groupID == 0 {
		return "coordinator"
	}
	return "worker"
}

// ParseRebalanceState map an engine reported job state to a RebalanceState
func ParseRebalanceState(s string) engine.RebalanceState {
	switch s {
	case "scheduled":
		return engine.RebalancePending
	case "running":
		return engine.RebalanceRunning
	case "finished":
		return engine.RebalanceDone
	default:
		// failing, failed and cancelled all need operator attention
		return engine.RebalanceFailed
	}
}

func alreadyRegistered(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "already exists")
}

func rebalanceAlreadyRunning(err error) bool {
	return strings.Contains(err.Error(), "already running") ||
		strings.Contains(err.Error(), "rebalance job already")
}

// classify wrap engine side failures with the error taxonomy the
// orchestrator retries on
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return engine.Transient(err)
		case "40":
			// serialization failure or deadlock, safe to retry
			return engine.Transient(err)
		}
		return err
	}

	// non SQLSTATE failures are network level problems reaching the coordinator
	return engine.Transient(err)
}

// dsn build a keyword value connection string for lib/pq
func dsn(host string, port int, creds topology.Credentials, sslmode string, timeout time.Duration) string {
	kv := []string{
		"host=" + quote(host),
		"port=" + strconv.Itoa(port),
		"user=" + quote(creds.User),
		"password=" + quote(creds.Password),
		"dbname=" + quote(creds.Database),
		"sslmode=" + sslmode,
		"connect_timeout=" + strconv.Itoa(int(timeout.Seconds())),
	}
	return strings.Join(kv, " ")
}

// quote single quote a value so spaces and quotes survive the dsn
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return fmt.Sprintf("'%s'", v)
}
