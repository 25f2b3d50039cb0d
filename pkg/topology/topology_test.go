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
	"io/ioutil"
	"path"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testTopology = `
name: test
coordinator: {}
workerCount: 3
credentials:
  user: shoal
  password: secret
  database: app
`

func TestParse(t *testing.T) {
	r := require.New(t)
	tp, err := Parse([]byte(testTopology))
	r.NoError(err)

	r.Equal("test", tp.Name)
	r.Equal("test-coordinator", tp.Coordinator.Host)
	r.Equal(5432, tp.Coordinator.Port)

	r.Len(tp.Workers, 3)
	for i, w := range tp.Workers {
		r.Equal(i+1, w.Index)
		r.Equal(5432+w.Index, w.Port)
	}
	r.Equal("test-worker-2", tp.Workers[1].Host)
}

func TestParseExplicitWorkers(t *testing.T) {
	r := require.New(t)
	tp, err := Parse([]byte(`
name: test
workers:
- index: 2
  host: custom-host
- index: 1
  port: 9999
`))
	r.NoError(err)

	// explicit workers win over workerCount and are sorted by index
	r.Len(tp.Workers, 2)
	r.Equal(1, tp.Workers[0].Index)
	r.Equal(9999, tp.Workers[0].Port)
	r.Equal(2, tp.Workers[1].Index)
	r.Equal("custom-host", tp.Workers[1].Host)
	r.Equal(5434, tp.Workers[1].Port)
}

func TestParseDefaults(t *testing.T) {
	r := require.New(t)
	tp, err := Parse([]byte(`workerCount: 1`))
	r.NoError(err)
	r.Equal(DefaultClusterName, tp.Name)
	r.Equal(DefaultPortBase, tp.PortBase)
	r.Nil(tp.Coordinator)
}

func TestValidate(t *testing.T) {
	var cases = []struct {
		name        string
		topology    string
		wantProblem string
	}{
		{
			name: "duplicate index",
			topology: `
name: test
workers:
- index: 1
- index: 1
`,
			wantProblem: "appears more than once",
		},
		{
			name: "index gap",
			topology: `
name: test
workers:
- index: 1
- index: 3
`,
			wantProblem: "gap",
		},
		{
			name: "index out of range",
			topology: `
name: test
workers:
- index: 0
`,
			wantProblem: "out of range",
		},
		{
			name: "address collision",
			topology: `
name: test
workers:
- index: 1
  host: same
  port: 5000
- index: 2
  host: same
  port: 5000
`,
			wantProblem: "share address",
		},
		{
			name: "port out of range",
			topology: `
name: test
workers:
- index: 1
  port: 70000
`,
			wantProblem: "port 70000 is out of range",
		},
		{
			name: "missing credentials",
			topology: `
name: test
coordinator: {}
workerCount: 1
`,
			wantProblem: "credentials user is empty",
		},
		{
			name:        "negative worker count",
			topology:    `workerCount: -1`,
			wantProblem: "worker count is negative",
		},
	}

	for _, cs := range cases {
		t.Run(cs.name, func(t *testing.T) {
			r := require.New(t)
			_, err := Parse([]byte(cs.topology))
			r.Error(err)
			r.True(IsInvalid(err))
			r.Contains(err.Error(), cs.wantProblem)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	r := require.New(t)
	_, err := Parse([]byte(`
name: test
coordinator: {}
workers:
- index: 1
- index: 1
`))
	r.Error(err)

	e := &InvalidTopologyError{}
	r.True(errors.As(err, &e))
	// the duplicate index and all three credential fields are reported together
	r.Len(e.Problems, 4)
}

func TestWorkerOnlyTopologyNeedsNoCredentials(t *testing.T) {
	r := require.New(t)
	tp, err := Parse([]byte(`
name: test
workerCount: 2
`))
	r.NoError(err)
	r.Nil(tp.Coordinator)
	r.Len(tp.WorkerAddrs(), 2)
}

func TestIsInvalidWrapped(t *testing.T) {
	r := require.New(t)
	err := errors.Wrapf(&InvalidTopologyError{Problems: []string{"x"}}, "converge")
	r.True(IsInvalid(err))
	r.False(IsInvalid(errors.New("other")))
}

func TestClone(t *testing.T) {
	r := require.New(t)
	tp, err := Parse([]byte(testTopology))
	r.NoError(err)

	cp := tp.Clone()
	cp.Workers[0].Host = "changed"
	cp.Coordinator.Port = 1

	r.Equal("test-worker-1", tp.Workers[0].Host)
	r.Equal(5432, tp.Coordinator.Port)
}

func TestNextIndex(t *testing.T) {
	r := require.New(t)

	tp := &Topology{}
	r.Equal(1, tp.NextIndex())

	tp, err := Parse([]byte(testTopology))
	r.NoError(err)
	r.Equal(4, tp.NextIndex())
}

func TestManagerReload(t *testing.T) {
	r := require.New(t)
	m := NewManager()
	r.Nil(m.Info())

	reloaded := 0
	m.AddReloadCallbacks(func(info *Info) error {
		reloaded++
		return nil
	})

	r.NoError(m.ReloadFromRaw([]byte(testTopology)))
	r.Equal(1, reloaded)

	info := m.Info()
	r.NotNil(info)
	r.NotEmpty(info.FileHash)
	r.Equal("test", info.Topology.Name)
}

func TestManagerReloadRejectsInvalid(t *testing.T) {
	r := require.New(t)
	m := NewManager()

	r.NoError(m.ReloadFromRaw([]byte(testTopology)))
	old := m.Info()

	r.Error(m.ReloadFromRaw(nil))
	r.Error(m.ReloadFromRaw([]byte(`workerCount: -1`)))
	r.Equal(old, m.Info())
}

func TestLoad(t *testing.T) {
	r := require.New(t)

	file := path.Join(t.TempDir(), "topology.yaml")
	r.NoError(ioutil.WriteFile(file, []byte(testTopology), 0755))

	tp, err := Load(file)
	r.NoError(err)
	r.Equal("test", tp.Name)

	_, err = Load(path.Join(t.TempDir(), "missing.yaml"))
	r.Error(err)
}
