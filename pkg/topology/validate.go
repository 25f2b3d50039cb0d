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
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// InvalidTopologyError reject one topology before any side effect happens
// it collects every violation so the caller sees the full picture in one pass
type InvalidTopologyError struct {
	Problems []string
}

// Error implement the error interface
func (e *InvalidTopologyError) Error() string {
	return "invalid topology: " + strings.Join(e.Problems, "; ")
}

// IsInvalid return true if err is or wraps an InvalidTopologyError
func IsInvalid(err error) bool {
	target := &InvalidTopologyError{}
	return errors.As(err, &target)
}

// Validate check the topology is well formed, it is pure and does no I/O
// the zero return means the topology is safe to generate from
func (t *Topology) Validate() error {
	var problems []string

	if t.Name == "" {
		problems = append(problems, "cluster name is empty")
	}

	if t.WorkerCount < 0 {
		problems = append(problems, fmt.Sprintf("worker count is negative: %d", t.WorkerCount))
	}

	problems = append(problems, t.validateIndices()...)
	problems = append(problems, t.validatePorts()...)
	problems = append(problems, t.validateCredentials()...)

	if len(problems) != 0 {
		return &InvalidTopologyError{Problems: problems}
	}
	return nil
}

// validateIndices check worker indices are a contiguous 1..N range with no gaps
func (t *Topology) validateIndices() []string {
	var problems []string
	seen := map[int]bool{}
	for i := range t.Workers {
		idx := t.Workers[i].Index
		if idx < 1 {
			problems = append(problems, fmt.Sprintf("worker index %d is out of range, indices start at 1", idx))
			continue
		}
		if seen[idx] {
			problems = append(problems, fmt.Sprintf("worker index %d appears more than once", idx))
		}
		seen[idx] = true
	}

	if len(problems) == 0 {
		for i := 1; i <= len(t.Workers); i++ {
			if !seen[i] {
				problems = append(problems, fmt.Sprintf("worker indices have a gap, index %d is missing", i))
			}
		}
	}
	return problems
}

// validatePorts check no two nodes share a port on the same host
func (t *Topology) validatePorts() []string {
	var problems []string
	used := map[string]string{}

	claim := func(addr NodeAddr, who string) {
		if addr.Port <= 0 || addr.Port > 65535 {
			problems = append(problems, fmt.Sprintf("%s port %d is out of range", who, addr.Port))
			return
		}
		key := addr.String()
		if prev, ok := used[key]; ok {
			problems = append(problems, fmt.Sprintf("%s and %s share address %s", prev, who, key))
			return
		}
		used[key] = who
	}

	if t.Coordinator != nil {
		claim(t.Coordinator.Addr(), "coordinator")
	}
	for i := range t.Workers {
		claim(t.Workers[i].Addr(), fmt.Sprintf("worker %d", t.Workers[i].Index))
	}
	return problems
}

// validateCredentials check credential fields are filled when a coordinator is present
func (t *Topology) validateCredentials() []string {
	if t.Coordinator == nil {
		return nil
	}

	var problems []string
	if t.Credentials.User == "" {
		problems = append(problems, "credentials user is empty")
	}
	if t.Credentials.Password == "" {
		problems = append(problems, "credentials password is empty")
	}
	if t.Credentials.Database == "" {
		problems = append(problems, "credentials database is empty")
	}
	return problems
}
