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
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/topology"
)

func TestClassify(t *testing.T) {
	var cases = []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{
			name:          "connection exception is transient",
			err:           &pq.Error{Code: "08006", Message: "connection failure"},
			wantTransient: true,
		},
		{
			name:          "cannot connect now is transient",
			err:           &pq.Error{Code: "57P03", Message: "the database system is starting up"},
			wantTransient: true,
		},
		{
			name:          "too many connections is transient",
			err:           &pq.Error{Code: "53300", Message: "sorry, too many clients already"},
			wantTransient: true,
		},
		{
			name:          "deadlock is transient",
			err:           &pq.Error{Code: "40P01", Message: "deadlock detected"},
			wantTransient: true,
		},
		{
			name:          "network error is transient",
			err:           fmt.Errorf("dial tcp 10.0.0.1:5432: connect: connection refused"),
			wantTransient: true,
		},
		{
			name:          "undefined function is terminal",
			err:           &pq.Error{Code: "42883", Message: "function citus_add_node does not exist"},
			wantTransient: false,
		},
		{
			name:          "invalid authorization is terminal",
			err:           &pq.Error{Code: "28P01", Message: "password authentication failed"},
			wantTransient: false,
		},
	}

	for _, cs := range cases {
		t.Run(cs.name, func(t *testing.T) {
			r := require.New(t)
			got := classify(cs.err)
			r.Error(got)
			r.Equal(cs.wantTransient, engine.IsTransient(got))
		})
	}
}

func TestClassifyNil(t *testing.T) {
	require.NoError(t, classify(nil))
}

func TestAlreadyRegistered(t *testing.T) {
	r := require.New(t)
	r.True(alreadyRegistered(&pq.Error{Code: "23505", Message: "duplicate key value"}))
	r.True(alreadyRegistered(fmt.Errorf("node shoal-worker-1:5432 already exists")))
	r.False(alreadyRegistered(&pq.Error{Code: "08006", Message: "connection failure"}))
}

func TestParseRebalanceState(t *testing.T) {
	var cases = []struct {
		in   string
		want engine.RebalanceState
	}{
		{in: "scheduled", want: engine.RebalancePending},
		{in: "running", want: engine.RebalanceRunning},
		{in: "finished", want: engine.RebalanceDone},
		{in: "failed", want: engine.RebalanceFailed},
		{in: "failing", want: engine.RebalanceFailed},
		{in: "cancelled", want: engine.RebalanceFailed},
	}
	for _, cs := range cases {
		t.Run(cs.in, func(t *testing.T) {
			require.Equal(t, cs.want, ParseRebalanceState(cs.in))
		})
	}
}

func TestRoleOfGroup(t *testing.T) {
	r := require.New(t)
	r.Equal("coordinator", RoleOfGroup(0))
	r.Equal("worker", RoleOfGroup(3))
}

func TestDSN(t *testing.T) {
	r := require.New(t)
	got := dsn("db-0", 5432, topology.Credentials{
		User:     "shoal",
		Password: "it's secret",
		Database: "app",
	}, "disable", 0)
	r.Contains(got, "host='db-0'")
	r.Contains(got, "port=5432")
	r.Contains(got, `password='it\'s secret'`)
	r.Contains(got, "sslmode=disable")
}

func TestClassifyCheck(t *testing.T) {
	addr := topology.NodeAddr{Host: "w0", Port: 5432}

	var cases = []struct {
		name         string
		err          error
		wantNotReady bool
	}{
		{
			name:         "starting up is not ready",
			err:          &pq.Error{Code: "57P03", Message: "the database system is starting up"},
			wantNotReady: true,
		},
		{
			name:         "saturated is not ready",
			err:          &pq.Error{Code: "53300", Message: "sorry, too many clients already"},
			wantNotReady: true,
		},
		{
			name:         "auth failure is unreachable",
			err:          &pq.Error{Code: "28P01", Message: "password authentication failed"},
			wantNotReady: false,
		},
		{
			name:         "refused connection is unreachable",
			err:          fmt.Errorf("dial tcp: connect: connection refused"),
			wantNotReady: false,
		},
	}

	for _, cs := range cases {
		t.Run(cs.name, func(t *testing.T) {
			r := require.New(t)
			got := classifyCheck(addr, cs.err)
			r.Error(got)
			r.Equal(cs.wantNotReady, engine.IsNotReady(got))
		})
	}
}

func TestCheckOpenFailure(t *testing.T) {
	r := require.New(t)
	ck := NewChecker(topology.Credentials{User: "shoal"})
	ck.open = func(string) (*sql.DB, error) {
		return nil, fmt.Errorf("no such driver")
	}

	err := ck.Check(context.TODO(), topology.NodeAddr{Host: "w0", Port: 5432})
	r.Error(err)
	r.Contains(err.Error(), "open w0:5432")
}

func TestCheckClosedPool(t *testing.T) {
	r := require.New(t)
	ck := NewChecker(topology.Credentials{User: "shoal"})
	ck.open = func(d string) (*sql.DB, error) {
		db, err := sql.Open("postgres", d)
		if err != nil {
			return nil, err
		}
		_ = db.Close()
		return db, nil
	}

	err := ck.Check(context.TODO(), topology.NodeAddr{Host: "w0", Port: 5432})
	r.Error(err)
	r.False(engine.IsNotReady(err))
}
