// Copyright 2026 The EntityKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gcpdatastore

// A KindOverride changes how one logical kind is stored. Zero fields keep
// the collection's defaults.
type KindOverride struct {
	// Kind is the stored kind name, when it differs from the logical one.
	Kind string
	// KeyProperty is the record field holding the key, when it differs
	// from the keyField the collection was opened with.
	KeyProperty string
}

// KindOverrides maps logical kind names to storage overrides. It is
// immutable once built; construct it with NewKindOverrides.
type KindOverrides struct {
	m map[string]KindOverride
}

// NewKindOverrides copies m into an immutable override table. Later changes
// to m do not affect the returned value.
func NewKindOverrides(m map[string]KindOverride) KindOverrides {
	c := make(map[string]KindOverride, len(m))
	for k, v := range m {
		c[k] = v
	}
	return KindOverrides{m: c}
}

// resolve returns the stored kind name and key field to use for the given
// logical kind.
func (o KindOverrides) resolve(kind, keyField string) (string, string) {
	ov, ok := o.m[kind]
	if !ok {
		return kind, keyField
	}
	if ov.Kind != "" {
		kind = ov.Kind
	}
	if ov.KeyProperty != "" {
		keyField = ov.KeyProperty
	}
	return kind, keyField
}
