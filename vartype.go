/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package smiol

// VarType is smiol's fixed variable-type enum, translated to/from the
// backend's native type by elemSize, below.
type VarType int

const (
	REAL32 VarType = iota
	REAL64
	INT32
	CHAR
	UnknownVarType
)

// String names a VarType for diagnostics.
func (t VarType) String() string {
	switch t {
	case REAL32:
		return "REAL32"
	case REAL64:
		return "REAL64"
	case INT32:
		return "INT32"
	case CHAR:
		return "CHAR"
	default:
		return "UNKNOWN_VAR_TYPE"
	}
}

// elemSize returns the fixed-size byte-block size backend.Backend and
// internal/xfer address variables by. CHAR is one byte per element,
// matching a netCDF text variable.
func (t VarType) elemSize() (int, error) {
	switch t {
	case REAL32:
		return 4, nil
	case REAL64:
		return 8, nil
	case INT32:
		return 4, nil
	case CHAR:
		return 1, nil
	default:
		return 0, newError(INVALID_ARGUMENT, "unknown variable type")
	}
}
