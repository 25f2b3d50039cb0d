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

package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransientError marks a failure expected to clear on retry, a network blip
// or a momentarily unavailable coordinator
type TransientError struct {
	Err error
}

// Error implement the error interface
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient engine error: %s", e.Err.Error())
}

// Unwrap expose the underlying cause
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wrap err as a TransientError, nil stays nil
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient return true if err is or wraps a TransientError
func IsTransient(err error) bool {
	target := &TransientError{}
	return errors.As(err, &target)
}

// ConflictError means the address is already registered under a different
// identity, it is terminal and never auto resolved
type ConflictError struct {
	Host   string
	Port   int
	Detail string
}

// Error implement the error interface
func (e *ConflictError) Error() string {
	return fmt.Sprintf("registration conflict on %s:%d: %s", e.Host, e.Port, e.Detail)
}

// IsConflict return true if err is or wraps a ConflictError
func IsConflict(err error) bool {
	target := &ConflictError{}
	return errors.As(err, &target)
}

// NotReadyError means a node answered the connection but reports it is not
// yet initialized, for example an engine still replaying its startup
type NotReadyError struct {
	Detail string
}

// Error implement the error interface
func (e *NotReadyError) Error() string {
	return fmt.Sprintf("node is not ready: %s", e.Detail)
}

// IsNotReady return true if err is or wraps a NotReadyError
func IsNotReady(err error) bool {
	target := &NotReadyError{}
	return errors.As(err, &target)
}
