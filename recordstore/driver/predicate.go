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

package driver

import (
	"fmt"
	"strings"

	"entitykit.dev/internal/gcerr"
)

// A LogicalOp joins the parts of a Predicate node.
type LogicalOp int

// Values for LogicalOp.
const (
	And LogicalOp = iota + 1
	Or
)

func (op LogicalOp) String() string {
	switch op {
	case And:
		return "AND"
	case Or:
		return "OR"
	default:
		return fmt.Sprintf("LogicalOp(%d)", int(op))
	}
}

// A Predicate is a node of a boolean filter tree. The node's Params and Subs
// are all joined by the node's Op; mixing operators requires nesting.
// A nil Predicate, or one with no params and no children, matches every
// record.
//
// Predicates are constructed once per query invocation and treated as
// immutable afterwards: NormalizeDNF and the drivers never modify them.
type Predicate struct {
	Op     LogicalOp
	Params []Filter
	Subs   []*Predicate
}

// IsEmpty reports whether p constrains nothing.
func (p *Predicate) IsEmpty() bool {
	return p == nil || (len(p.Params) == 0 && len(p.Subs) == 0)
}

// Matches reports whether the filters of p are true of doc, by direct
// evaluation of the boolean tree. Drivers use it to re-check records
// fetched through channels that cannot express the full filter, such as
// key lookups.
//
// A record field that is missing, or whose value cannot be compared with
// the filter value, fails that filter. An unknown logical operator is an
// Internal error.
func (p *Predicate) Matches(doc Document) (bool, error) {
	if p.IsEmpty() {
		return true, nil
	}
	switch p.Op {
	case And:
		for _, f := range p.Params {
			if !filterMatches(f, doc) {
				return false, nil
			}
		}
		for _, s := range p.Subs {
			ok, err := s.Matches(doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, f := range p.Params {
			if filterMatches(f, doc) {
				return true, nil
			}
		}
		for _, s := range p.Subs {
			ok, err := s.Matches(doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, gcerr.Newf(gcerr.Internal, nil, "unknown logical operator %d in predicate", int(p.Op))
	}
}

// filterMatches reports whether the single comparison f is true of doc.
func filterMatches(f Filter, doc Document) bool {
	fv, err := doc.Get(f.FieldPath)
	if err != nil {
		// Treat a missing field as false.
		return false
	}
	dv, err := ValueOf(fv)
	if err != nil {
		return false
	}
	c, err := CompareValues(dv, f.Value)
	if err != nil {
		return false
	}
	return applyComparison(f.Op, c)
}

// op is one of the five permitted comparison operators ("=", "<", etc.)
// c is the result of strings.Compare or the like.
func applyComparison(op string, c int) bool {
	switch op {
	case EqualOp:
		return c == 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	default:
		panic("bad op")
	}
}

func (p *Predicate) String() string {
	if p.IsEmpty() {
		return "(all)"
	}
	var parts []string
	for _, f := range p.Params {
		parts = append(parts, fmt.Sprintf("%s %s %v", strings.Join(f.FieldPath, "."), f.Op, f.Value))
	}
	for _, s := range p.Subs {
		parts = append(parts, s.String())
	}
	return "(" + strings.Join(parts, " "+p.Op.String()+" ") + ")"
}
