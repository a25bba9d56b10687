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
	"testing"

	"entitykit.dev/gcerrors"
	"github.com/google/go-cmp/cmp"
)

// filter builds a single-field comparison for tests.
func filter(field, op string, v interface{}) Filter {
	dv, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return Filter{FieldPath: []string{field}, Op: op, Value: dv}
}

func conj(fs ...Filter) *Predicate { return &Predicate{Op: And, Params: fs} }

func disj(ps ...*Predicate) *Predicate { return &Predicate{Op: Or, Subs: ps} }

var cmpValues = cmp.AllowUnexported(Value{})

func TestNormalizeDNF(t *testing.T) {
	p1 := filter("a", "=", 1)
	p2 := filter("b", ">", 2)
	p3 := filter("c", "<", 3)
	p4 := filter("d", "=", "x")
	p5 := filter("e", ">=", 5.5)

	for _, test := range []struct {
		name string
		in   *Predicate
		want [][]Filter
	}{
		{
			name: "nil",
			in:   nil,
			want: [][]Filter{nil},
		},
		{
			name: "empty",
			in:   &Predicate{Op: And},
			want: [][]Filter{nil},
		},
		{
			name: "single filter",
			in:   conj(p1),
			want: [][]Filter{{p1}},
		},
		{
			name: "flat conjunction",
			in:   conj(p1, p2, p3),
			want: [][]Filter{{p1, p2, p3}},
		},
		{
			name: "flat disjunction",
			in:   disj(conj(p1), conj(p2)),
			want: [][]Filter{{p1}, {p2}},
		},
		{
			name: "or with direct params",
			in:   &Predicate{Op: Or, Params: []Filter{p1, p2}},
			want: [][]Filter{{p1}, {p2}},
		},
		{
			// A AND (B OR C): distribution over one disjunction.
			name: "and over or",
			in:   &Predicate{Op: And, Params: []Filter{p1}, Subs: []*Predicate{disj(conj(p2), conj(p3))}},
			want: [][]Filter{{p1, p2}, {p1, p3}},
		},
		{
			// p1 AND (p2 OR p3) AND (p4 OR p5): the four-way expansion.
			name: "two disjunctions",
			in: &Predicate{
				Op:     And,
				Params: []Filter{p1},
				Subs: []*Predicate{
					disj(conj(p2), conj(p3)),
					disj(conj(p4), conj(p5)),
				},
			},
			want: [][]Filter{
				{p1, p2, p4},
				{p1, p2, p5},
				{p1, p3, p4},
				{p1, p3, p5},
			},
		},
		{
			// Nested disjunctions flatten: (p1 OR (p2 OR p3)).
			name: "nested or",
			in:   disj(conj(p1), disj(conj(p2), conj(p3))),
			want: [][]Filter{{p1}, {p2}, {p3}},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			dnf, err := NormalizeDNF(test.in)
			if err != nil {
				t.Fatal(err)
			}
			got, err := Conjunctions(dnf)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(got, test.want, cmpValues); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestNormalizeDNFIdempotent(t *testing.T) {
	p := &Predicate{
		Op:     And,
		Params: []Filter{filter("a", "=", 1)},
		Subs: []*Predicate{
			disj(conj(filter("b", ">", 2)), conj(filter("c", "<", 3))),
		},
	}
	once, err := NormalizeDNF(p)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := NormalizeDNF(once)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(twice, once, cmpValues); diff != "" {
		t.Errorf("normalizing twice changed the result: %s", diff)
	}
}

func TestNormalizeDNFDoesNotModifyInput(t *testing.T) {
	in := &Predicate{
		Op:     And,
		Params: []Filter{filter("a", "=", 1)},
		Subs: []*Predicate{
			disj(conj(filter("b", ">", 2)), conj(filter("c", "<", 3))),
		},
	}
	want := &Predicate{
		Op:     And,
		Params: []Filter{filter("a", "=", 1)},
		Subs: []*Predicate{
			disj(conj(filter("b", ">", 2)), conj(filter("c", "<", 3))),
		},
	}
	if _, err := NormalizeDNF(in); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, want, cmpValues); diff != "" {
		t.Errorf("input modified: %s", diff)
	}
}

func TestNormalizeDNFBadOp(t *testing.T) {
	_, err := NormalizeDNF(&Predicate{Op: 0, Params: []Filter{filter("a", "=", 1)}})
	if gcerrors.Code(err) != gcerrors.Internal {
		t.Errorf("got %v, want Internal", err)
	}
}

// TestNormalizeDNFEquivalent checks that normalization preserves meaning:
// the normalized predicate matches exactly the records the original does.
func TestNormalizeDNFEquivalent(t *testing.T) {
	p := &Predicate{
		Op:     And,
		Params: []Filter{filter("a", ">=", 1)},
		Subs: []*Predicate{
			disj(conj(filter("b", "=", "x")), conj(filter("c", "<", 10), filter("a", "<", 5))),
		},
	}
	dnf, err := NormalizeDNF(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []map[string]interface{}{
		{"a": 1, "b": "x", "c": 20},
		{"a": 1, "b": "y", "c": 5},
		{"a": 7, "b": "y", "c": 5},
		{"a": 0, "b": "x", "c": 5},
		{"a": 3, "c": 9},
		{"b": "x"},
		{},
	} {
		doc, err := NewDocument(m)
		if err != nil {
			t.Fatal(err)
		}
		want, err := p.Matches(doc)
		if err != nil {
			t.Fatal(err)
		}
		got, err := dnf.Matches(doc)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%v: original matches %t, normalized matches %t", m, want, got)
		}
	}
}

func TestConjunctionsNotDNF(t *testing.T) {
	for _, p := range []*Predicate{
		// A conjunction with children is not flat.
		{Op: And, Params: []Filter{filter("a", "=", 1)}, Subs: []*Predicate{conj(filter("b", "=", 2))}},
		// A disjunction with direct params.
		{Op: Or, Params: []Filter{filter("a", "=", 1)}, Subs: []*Predicate{conj(filter("b", "=", 2))}},
		// A disjunct that is itself a disjunction.
		disj(disj(conj(filter("a", "=", 1)))),
	} {
		if _, err := Conjunctions(p); gcerrors.Code(err) != gcerrors.Internal {
			t.Errorf("%s: got %v, want Internal", p, err)
		}
	}
}
