// Copyright 2024 The Cantor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assoc

import "errors"

// ErrTooSmall is returned by Resize when the requested size cannot hold
// the existing elements under the load-factor rule.
var ErrTooSmall = errors.New("assoc: requested size too small for current contents")

// errAlloc wraps allocator failures from construction and resize.
var errAlloc = errors.New("assoc: slot allocation failed")

var errNilHook = errors.New("assoc: all five hooks must be set")
