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
	"entitykit.dev/internal/gcerr"
)

// NormalizeDNF rewrites p into disjunctive normal form. The result is
// either a single AND node with no children (a pure conjunction, possibly
// with no params at all for a matches-everything predicate), or an OR node
// with no params of its own whose children are all pure conjunctions.
//
// The rewrite distributes AND over OR: A AND (B1 OR B2) becomes
// (A AND B1) OR (A AND B2), recursively, and same-operator nesting is
// flattened. The input is not modified; normalization is a pure function,
// and normalizing an already-normalized predicate reproduces it exactly.
//
// An unknown logical operator anywhere in the tree is an Internal error:
// it is a contract violation by the caller, not a condition to recover
// from or to default away.
func NormalizeDNF(p *Predicate) (*Predicate, error) {
	groups, err := conjunctiveGroups(p)
	if err != nil {
		return nil, err
	}
	if len(groups) == 1 {
		return &Predicate{Op: And, Params: groups[0]}, nil
	}
	subs := make([]*Predicate, len(groups))
	for i, g := range groups {
		subs[i] = &Predicate{Op: And, Params: g}
	}
	return &Predicate{Op: Or, Subs: subs}, nil
}

// conjunctiveGroups returns the disjuncts of p as parameter lists: p is
// equivalent to the OR over the returned groups, each group being the AND
// of its filters. An empty predicate yields a single empty group.
func conjunctiveGroups(p *Predicate) ([][]Filter, error) {
	if p.IsEmpty() {
		return [][]Filter{nil}, nil
	}
	switch p.Op {
	case Or:
		// Each param and each disjunct of each child is a group of its own.
		var groups [][]Filter
		for _, f := range p.Params {
			groups = append(groups, []Filter{f})
		}
		for _, s := range p.Subs {
			sub, err := conjunctiveGroups(s)
			if err != nil {
				return nil, err
			}
			groups = append(groups, sub...)
		}
		return groups, nil
	case And:
		// Start with this node's own params as the single group, then
		// cross-multiply with the disjuncts of every child.
		groups := [][]Filter{append([]Filter(nil), p.Params...)}
		for _, s := range p.Subs {
			sub, err := conjunctiveGroups(s)
			if err != nil {
				return nil, err
			}
			groups = crossGroups(groups, sub)
		}
		return groups, nil
	default:
		return nil, gcerr.Newf(gcerr.Internal, nil, "unknown logical operator %d in predicate", int(p.Op))
	}
}

// crossGroups computes the pairwise concatenation of the two group lists:
// the distribution step of AND over OR.
func crossGroups(as, bs [][]Filter) [][]Filter {
	out := make([][]Filter, 0, len(as)*len(bs))
	for _, a := range as {
		for _, b := range bs {
			g := make([]Filter, 0, len(a)+len(b))
			g = append(g, a...)
			g = append(g, b...)
			out = append(out, g)
		}
	}
	return out
}

// Conjunctions returns the conjunctive groups of a predicate already in
// disjunctive normal form, one []Filter per native query to issue.
// It is the accessor drivers use after NormalizeDNF.
func Conjunctions(dnf *Predicate) ([][]Filter, error) {
	if dnf.IsEmpty() {
		return [][]Filter{nil}, nil
	}
	switch dnf.Op {
	case And:
		if len(dnf.Subs) != 0 {
			return nil, gcerr.Newf(gcerr.Internal, nil, "conjunction has %d children; predicate is not in DNF", len(dnf.Subs))
		}
		return [][]Filter{dnf.Params}, nil
	case Or:
		if len(dnf.Params) != 0 {
			return nil, gcerr.Newf(gcerr.Internal, nil, "disjunction carries %d direct params; predicate is not in DNF", len(dnf.Params))
		}
		groups := make([][]Filter, len(dnf.Subs))
		for i, s := range dnf.Subs {
			if s.Op != And || len(s.Subs) != 0 {
				return nil, gcerr.Newf(gcerr.Internal, nil, "disjunct %d is not a pure conjunction", i)
			}
			groups[i] = s.Params
		}
		return groups, nil
	default:
		return nil, gcerr.Newf(gcerr.Internal, nil, "unknown logical operator %d in predicate", int(dnf.Op))
	}
}
