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

package types

// Int32Ptr return pointer of int32
func Int32Ptr(i int32) *int32 {
	return &i
}

// Int64Ptr return pointer of int64
func Int64Ptr(i int64) *int64 {
	return &i
}

// BoolPtr return pointer of bool
func BoolPtr(b bool) *bool {
	return &b
}

// StringPtr return pointer of string
func StringPtr(s string) *string {
	return &s
}
