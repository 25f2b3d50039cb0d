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
	"sync"

	"github.com/pkg/errors"

	"github.com/shoal-db/shoal/pkg/utils/encode"
)

// Info include all information of the current topology file
type Info struct {
	// RawContent is the content of the topology file
	RawContent []byte
	// FileHash is a md5 of the topology file content
	FileHash string
	// Topology is the normalized and validated topology
	Topology *Topology
}

// Manager holds the current topology and notifies callbacks when it is reloaded
type Manager struct {
	lk        sync.Mutex
	callbacks []func(info *Info) error
	current   *Info
}

// NewManager return a topology manager with no topology loaded
func NewManager() *Manager {
	return &Manager{}
}

// ReloadFromFile reload the topology from file and do all callbacks
func (m *Manager) ReloadFromFile(file string) error {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return errors.Wrapf(err, "read topology file")
	}
	return m.ReloadFromRaw(data)
}

// ReloadFromRaw reload the topology from raw yaml content
// an invalid topology is rejected and the previous one stays current
func (m *Manager) ReloadFromRaw(data []byte) error {
	if len(data) == 0 {
		return errors.New("topology content is empty")
	}

	t, err := Parse(data)
	if err != nil {
		return err
	}

	info := &Info{
		RawContent: data,
		FileHash:   encode.Md5(data),
		Topology:   t,
	}

	m.lk.Lock()
	m.current = info
	callbacks := m.callbacks
	m.lk.Unlock()

	for _, f := range callbacks {
		if err := f(info); err != nil {
			return err
		}
	}
	return nil
}

// Info return the current topology info, nil before the first successful reload
func (m *Manager) Info() *Info {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.current
}

// AddReloadCallbacks add callbacks of topology reload event
func (m *Manager) AddReloadCallbacks(f ...func(info *Info) error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.callbacks = append(m.callbacks, f...)
}
