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

import (
	"context"
	"io"
	"strings"
	"testing"

	"entitykit.dev/gcerrors"
	"entitykit.dev/recordstore/driver"
	"github.com/golang/protobuf/proto"
	tspb "github.com/golang/protobuf/ptypes/timestamp"
	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/google/go-cmp/cmp"
	pb "google.golang.org/genproto/googleapis/datastore/v1"
)

func testCollection(t *testing.T, client pb.DatastoreClient, opts *Options) *collection {
	t.Helper()
	c, err := newCollection(client, "proj", "Task", "name", opts)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// filter builds a single comparison for tests. path is dot-separated.
func filter(path, op string, v interface{}) driver.Filter {
	dv, err := driver.ValueOf(v)
	if err != nil {
		panic(err)
	}
	return driver.Filter{FieldPath: strings.Split(path, "."), Op: op, Value: dv}
}

func conj(fs ...driver.Filter) *driver.Predicate {
	return &driver.Predicate{Op: driver.And, Params: fs}
}

func disj(ps ...*driver.Predicate) *driver.Predicate {
	return &driver.Predicate{Op: driver.Or, Subs: ps}
}

func propFilter(name string, op pb.PropertyFilter_Operator, v *pb.Value) *pb.Filter {
	return &pb.Filter{
		FilterType: &pb.Filter_PropertyFilter{PropertyFilter: &pb.PropertyFilter{
			Property: &pb.PropertyReference{Name: name},
			Op:       op,
			Value:    v,
		}},
	}
}

func intVal(i int64) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: i}}
}

func strVal(s string) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_StringValue{StringValue: s}}
}

func TestFilterToProto(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	for _, test := range []struct {
		in   driver.Filter
		want *pb.Filter
	}{
		{
			filter("a", "=", 7),
			propFilter("a", pb.PropertyFilter_EQUAL, intVal(7)),
		},
		{
			filter("a", ">", 1.5),
			propFilter("a", pb.PropertyFilter_GREATER_THAN,
				&pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: 1.5}}),
		},
		{
			filter("a.b.c", "<=", "x"),
			propFilter("a.b.c", pb.PropertyFilter_LESS_THAN_OR_EQUAL, strVal("x")),
		},
		{
			// A filter on the key field translates to a __key__ filter.
			filter("name", ">=", "mia"),
			propFilter(keyProperty, pb.PropertyFilter_GREATER_THAN_OR_EQUAL,
				&pb.Value{ValueType: &pb.Value_KeyValue{KeyValue: c.keyFor("mia")}}),
		},
	} {
		got, err := c.filterToProto(test.in)
		if err != nil {
			t.Fatalf("%+v: %v", test.in, err)
		}
		if diff := cmp.Diff(got, test.want, cmp.Comparer(proto.Equal)); diff != "" {
			t.Errorf("%+v: %s", test.in, diff)
		}
	}
}

func TestFilterToProtoErrors(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	// Key field filters must compare against strings.
	if _, err := c.filterToProto(filter("name", "=", 3)); gcerrors.Code(err) != gcerrors.InvalidArgument {
		t.Errorf("got %v, want InvalidArgument", err)
	}
}

func TestPlanQuerySingle(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	q := &driver.Query{
		Predicate: conj(filter("status", "=", "open"), filter("priority", ">", 3)),
		OrderBy:   []driver.Ordering{{Field: "priority", Ascending: false}, {Field: "name", Ascending: true}},
		Limit:     5,
	}
	plan, err := c.planQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	if plan.lookupKeys != nil || len(plan.queries) != 1 {
		t.Fatalf("got %+v, want a single native query", plan)
	}
	if plan.dedup || plan.localSort || plan.localLimit != 0 {
		t.Errorf("single disjunct should push everything down; got %+v", plan)
	}
	want := &pb.Query{
		Kind: []*pb.KindExpression{{Name: "Task"}},
		Filter: &pb.Filter{
			FilterType: &pb.Filter_CompositeFilter{CompositeFilter: &pb.CompositeFilter{
				Op: pb.CompositeFilter_AND,
				Filters: []*pb.Filter{
					propFilter("status", pb.PropertyFilter_EQUAL, strVal("open")),
					propFilter("priority", pb.PropertyFilter_GREATER_THAN, intVal(3)),
				},
			}},
		},
		Order: []*pb.PropertyOrder{
			{Property: &pb.PropertyReference{Name: "priority"}, Direction: pb.PropertyOrder_DESCENDING},
			{Property: &pb.PropertyReference{Name: keyProperty}, Direction: pb.PropertyOrder_ASCENDING},
		},
		Limit: &wrappers.Int32Value{Value: 5},
	}
	if diff := cmp.Diff(plan.queries[0], want, cmp.Comparer(proto.Equal)); diff != "" {
		t.Error(diff)
	}
}

func TestPlanQueryUnion(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	q := &driver.Query{
		Predicate: disj(conj(filter("status", "=", "open")), conj(filter("priority", ">", 3))),
		OrderBy:   []driver.Ordering{{Field: "priority", Ascending: true}},
		Limit:     2,
	}
	plan, err := c.planQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.queries) != 2 {
		t.Fatalf("got %d queries, want 2", len(plan.queries))
	}
	if !plan.dedup || !plan.localSort || plan.localLimit != 2 {
		t.Errorf("union plan must merge client-side; got %+v", plan)
	}
	for i, pq := range plan.queries {
		// The limit stays local: a prefix of one disjunct's results is not a
		// prefix of the union's.
		if pq.Limit != nil {
			t.Errorf("query %d: limit %v pushed down", i, pq.Limit)
		}
		// The sort is still pushed, so each disjunct arrives ordered.
		if len(pq.Order) != 1 || pq.Order[0].Property.Name != "priority" {
			t.Errorf("query %d: order %v not pushed down", i, pq.Order)
		}
	}
}

func TestPlanQueryAncestor(t *testing.T) {
	anc := &pb.Key{Path: []*pb.Key_PathElement{{Kind: "Project", IdType: &pb.Key_PathElement_Name{Name: "p1"}}}}
	c := testCollection(t, staticClient(nil), &Options{Ancestor: anc})
	q := &driver.Query{
		Predicate: disj(conj(filter("status", "=", "open")), conj(filter("priority", ">", 3))),
	}
	plan, err := c.planQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	// Every disjunct carries the ancestor constraint.
	for i, pq := range plan.queries {
		cf := pq.GetFilter().GetCompositeFilter()
		if cf == nil {
			t.Fatalf("query %d: no composite filter", i)
		}
		var hasAncestor bool
		for _, f := range cf.Filters {
			pf := f.GetPropertyFilter()
			if pf.GetOp() == pb.PropertyFilter_HAS_ANCESTOR {
				hasAncestor = true
				if got := pf.GetValue().GetKeyValue(); !proto.Equal(got, c.ancestor) {
					t.Errorf("query %d: ancestor key %v, want %v", i, got, c.ancestor)
				}
			}
		}
		if !hasAncestor {
			t.Errorf("query %d: no HAS_ANCESTOR filter", i)
		}
	}
	// An unfiltered query still gets the ancestor constraint, alone.
	plan, err = c.planQuery(&driver.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if pf := plan.queries[0].GetFilter().GetPropertyFilter(); pf.GetOp() != pb.PropertyFilter_HAS_ANCESTOR {
		t.Errorf("got %v, want a lone HAS_ANCESTOR filter", plan.queries[0].GetFilter())
	}
}

func TestPlanQueryKeyLookup(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)

	// Key equalities across all disjuncts become a Lookup, with duplicate
	// names collapsed.
	q := &driver.Query{
		Predicate: disj(
			conj(filter("name", "=", "a")),
			conj(filter("name", "=", "b")),
			conj(filter("name", "=", "a")),
		),
		Limit: 1,
	}
	plan, err := c.planQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	want := []*pb.Key{c.keyFor("a"), c.keyFor("b")}
	if diff := cmp.Diff(plan.lookupKeys, want, cmp.Comparer(proto.Equal)); diff != "" {
		t.Error(diff)
	}
	if plan.localLimit != 1 {
		t.Errorf("got localLimit %d, want 1", plan.localLimit)
	}

	// A disjunct may combine its key equality with other filters; they are
	// left to the in-memory predicate.
	q = &driver.Query{
		Predicate: disj(
			conj(filter("name", "=", "a"), filter("status", "=", 1)),
			conj(filter("name", "=", "b")),
		),
	}
	plan, err = c.planQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(plan.lookupKeys, want, cmp.Comparer(proto.Equal)); diff != "" {
		t.Error(diff)
	}
	if plan.post != q.Predicate {
		t.Error("plan does not re-apply the original predicate")
	}

	// A disjunct without a key equality disqualifies the fast path.
	for _, p := range []*driver.Predicate{
		conj(filter("name", ">", "a")), // not an equality
		conj(filter("status", "=", 1)), // not on the key
		disj(conj(filter("name", "=", "a")), conj(filter("status", "=", 1))), // one disjunct not on the key
	} {
		plan, err := c.planQuery(&driver.Query{Predicate: p})
		if err != nil {
			t.Fatal(err)
		}
		if plan.lookupKeys != nil {
			t.Errorf("%s: got lookup plan, want queries", p)
		}
	}
}

func TestPlanQueryDisjunctError(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	// The second disjunct compares the key field with an int; the error names
	// the disjunct.
	q := &driver.Query{
		Predicate: disj(conj(filter("status", "=", "open")), conj(filter("name", "=", 3))),
	}
	_, err := c.planQuery(q)
	if gcerrors.Code(err) != gcerrors.InvalidArgument {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func entity(c *collection, name string, props map[string]*pb.Value) *pb.Entity {
	return &pb.Entity{Key: c.keyFor(name), Properties: props}
}

func TestSortEntities(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	e1 := entity(c, "e1", map[string]*pb.Value{"p": intVal(1), "q": strVal("x")})
	e2 := entity(c, "e2", map[string]*pb.Value{"p": intVal(1), "q": strVal("y")})
	e3 := entity(c, "e3", map[string]*pb.Value{"p": intVal(2)})
	e4 := entity(c, "e4", map[string]*pb.Value{}) // no sort fields at all

	for _, test := range []struct {
		name    string
		in      []*pb.Entity
		orderBy []driver.Ordering
		want    []*pb.Entity
	}{
		{
			"single field ascending",
			[]*pb.Entity{e3, e1},
			[]driver.Ordering{{Field: "p", Ascending: true}},
			[]*pb.Entity{e1, e3},
		},
		{
			"single field descending",
			[]*pb.Entity{e1, e3},
			[]driver.Ordering{{Field: "p", Ascending: false}},
			[]*pb.Entity{e3, e1},
		},
		{
			"secondary key breaks ties",
			[]*pb.Entity{e2, e3, e1},
			[]driver.Ordering{{Field: "p", Ascending: true}, {Field: "q", Ascending: false}},
			[]*pb.Entity{e2, e1, e3},
		},
		{
			"missing field sorts first",
			[]*pb.Entity{e1, e4},
			[]driver.Ordering{{Field: "p", Ascending: true}},
			[]*pb.Entity{e4, e1},
		},
		{
			"key field sorts by name",
			[]*pb.Entity{e3, e1, e2},
			[]driver.Ordering{{Field: "name", Ascending: false}},
			[]*pb.Entity{e3, e2, e1},
		},
		{
			"stable on equal keys",
			[]*pb.Entity{e2, e1},
			[]driver.Ordering{{Field: "p", Ascending: true}},
			[]*pb.Entity{e2, e1},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			ents := append([]*pb.Entity(nil), test.in...)
			c.sortEntities(ents, test.orderBy)
			if diff := cmp.Diff(ents, test.want, cmp.Comparer(proto.Equal)); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestMergeResults(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	e1 := entity(c, "e1", map[string]*pb.Value{"p": intVal(3)})
	e2 := entity(c, "e2", map[string]*pb.Value{"p": intVal(1)})
	e3 := entity(c, "e3", map[string]*pb.Value{"p": intVal(2)})

	got := c.mergeResults([]*pb.Entity{e1, e2, e1, e3, e2}, &queryPlan{
		dedup:      true,
		localSort:  true,
		orderBy:    []driver.Ordering{{Field: "p", Ascending: true}},
		localLimit: 2,
	})
	want := []*pb.Entity{e2, e3}
	if diff := cmp.Diff(got, want, cmp.Comparer(proto.Equal)); diff != "" {
		t.Error(diff)
	}
}

func TestRunGetQueryUnion(t *testing.T) {
	// (priority > 3) OR (status = "B"), ordered by n ascending, limit 2.
	// One entity matches both disjuncts and must appear only once.
	ctx := context.Background()
	var c *collection
	ents := func(names ...string) []*pb.Entity {
		var es []*pb.Entity
		for _, n := range names {
			switch n {
			case "p4":
				es = append(es, entity(c, n, map[string]*pb.Value{"priority": intVal(4), "status": strVal("A"), "n": intVal(3)}))
			case "b5":
				es = append(es, entity(c, n, map[string]*pb.Value{"priority": intVal(5), "status": strVal("B"), "n": intVal(1)}))
			case "b2":
				es = append(es, entity(c, n, map[string]*pb.Value{"priority": intVal(2), "status": strVal("B"), "n": intVal(2)}))
			}
		}
		return es
	}
	client := &fakeClient{
		runQuery: func(req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
			var es []*pb.Entity
			switch prop := req.GetQuery().GetFilter().GetPropertyFilter().GetProperty().GetName(); prop {
			case "priority":
				es = ents("p4", "b5")
			case "status":
				es = ents("b5", "b2")
			default:
				t.Errorf("unexpected filter property %q", prop)
			}
			return queryResponse(es, pb.QueryResultBatch_NO_MORE_RESULTS, nil), nil
		},
	}
	c = testCollection(t, client, nil)

	q := &driver.Query{
		Predicate: disj(conj(filter("priority", ">", 3)), conj(filter("status", "=", "B"))),
		OrderBy:   []driver.Ordering{{Field: "n", Ascending: true}},
		Limit:     2,
	}
	got, err := runToMaps(ctx, c, q)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, m := range got {
		names = append(names, m["name"].(string))
	}
	want := []string{"b5", "b2"}
	if !cmp.Equal(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestRunGetQueryUnionWithTimeSort(t *testing.T) {
	// (status = "A") OR (status = "B" AND priority > 3), newest first, limit 2.
	// The disjuncts compile to one simple and one composite filter.
	ctx := context.Background()
	var c *collection
	tsVal := func(sec int64) *pb.Value {
		return &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: &tspb.Timestamp{Seconds: sec}}}
	}
	a1 := func() *pb.Entity {
		return entity(c, "a1", map[string]*pb.Value{"status": strVal("A"), "created": tsVal(100)})
	}
	a2 := func() *pb.Entity {
		return entity(c, "a2", map[string]*pb.Value{"status": strVal("A"), "created": tsVal(300)})
	}
	b1 := func() *pb.Entity {
		return entity(c, "b1", map[string]*pb.Value{"status": strVal("B"), "priority": intVal(5), "created": tsVal(200)})
	}
	client := &fakeClient{
		runQuery: func(req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
			var es []*pb.Entity
			if req.GetQuery().GetFilter().GetCompositeFilter() != nil {
				es = []*pb.Entity{b1()}
			} else {
				es = []*pb.Entity{a1(), a2()}
			}
			return queryResponse(es, pb.QueryResultBatch_NO_MORE_RESULTS, nil), nil
		},
	}
	c = testCollection(t, client, nil)

	q := &driver.Query{
		Predicate: disj(
			conj(filter("status", "=", "A")),
			conj(filter("status", "=", "B"), filter("priority", ">", 3)),
		),
		OrderBy: []driver.Ordering{{Field: "created", Ascending: false}},
		Limit:   2,
	}
	got, err := runToMaps(ctx, c, q)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, m := range got {
		names = append(names, m["name"].(string))
	}
	want := []string{"a2", "b1"}
	if !cmp.Equal(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestRunGetQueryPagination(t *testing.T) {
	// A single-disjunct query streams batches, following the end cursor and
	// shrinking the pushed-down limit as results arrive.
	ctx := context.Background()
	var c *collection
	var reqs []*pb.RunQueryRequest
	client := &fakeClient{
		runQuery: func(req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
			reqs = append(reqs, proto.Clone(req).(*pb.RunQueryRequest))
			if len(reqs) == 1 {
				es := []*pb.Entity{
					entity(c, "a", nil),
					entity(c, "b", nil),
				}
				return queryResponse(es, pb.QueryResultBatch_NOT_FINISHED, []byte("cur1")), nil
			}
			return queryResponse([]*pb.Entity{entity(c, "c", nil)}, pb.QueryResultBatch_NO_MORE_RESULTS, nil), nil
		},
	}
	c = testCollection(t, client, nil)

	q := &driver.Query{
		Predicate: conj(filter("status", "=", "open")),
		Limit:     3,
	}
	got, err := runToMaps(ctx, c, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d RunQuery calls, want 2", len(reqs))
	}
	q2 := reqs[1].GetQuery()
	if string(q2.StartCursor) != "cur1" {
		t.Errorf("second request cursor %q, want %q", q2.StartCursor, "cur1")
	}
	if q2.GetLimit().GetValue() != 1 {
		t.Errorf("second request limit %v, want 1", q2.GetLimit())
	}
}

func TestRunGetQueryLookupPath(t *testing.T) {
	// Key-equality disjuncts run as a Lookup; the predicate is re-applied to
	// what comes back, and missing keys contribute nothing.
	ctx := context.Background()
	var c *collection
	client := &fakeClient{
		lookup: func(req *pb.LookupRequest) (*pb.LookupResponse, error) {
			var resp pb.LookupResponse
			for _, k := range req.Keys {
				switch keyName(k) {
				case "a":
					resp.Found = append(resp.Found, &pb.EntityResult{
						Entity: entity(c, "a", map[string]*pb.Value{"status": strVal("open")}),
					})
				case "b":
					resp.Missing = append(resp.Missing, &pb.EntityResult{
						Entity: &pb.Entity{Key: k},
					})
				}
			}
			return &resp, nil
		},
	}
	c = testCollection(t, client, nil)

	q := &driver.Query{
		Predicate: disj(conj(filter("name", "=", "a")), conj(filter("name", "=", "b"))),
	}
	got, err := runToMaps(ctx, c, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["name"] != "a" {
		t.Errorf("got %v, want just record a", got)
	}
}

func TestRunGetQueryLookupResidualFilter(t *testing.T) {
	// A disjunct that pairs a key equality with other filters still runs as a
	// Lookup; a fetched record that fails the rest of its disjunct is dropped.
	ctx := context.Background()
	var c *collection
	client := &fakeClient{
		lookup: func(req *pb.LookupRequest) (*pb.LookupResponse, error) {
			var resp pb.LookupResponse
			for _, k := range req.Keys {
				status := "open"
				if keyName(k) == "b" {
					status = "closed"
				}
				resp.Found = append(resp.Found, &pb.EntityResult{
					Entity: entity(c, keyName(k), map[string]*pb.Value{"status": strVal(status)}),
				})
			}
			return &resp, nil
		},
	}
	c = testCollection(t, client, nil)

	q := &driver.Query{
		Predicate: disj(
			conj(filter("name", "=", "a"), filter("status", "=", "open")),
			conj(filter("name", "=", "b"), filter("status", "=", "open")),
		),
	}
	got, err := runToMaps(ctx, c, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["name"] != "a" {
		t.Errorf("got %v, want just record a", got)
	}
}

func TestRunGetQueryLookupBeforeQuery(t *testing.T) {
	// Changes BeforeQuery makes to the Lookup request apply to every batch,
	// including retries of deferred keys.
	ctx := context.Background()
	var c *collection
	var reqs []*pb.LookupRequest
	client := &fakeClient{
		lookup: func(req *pb.LookupRequest) (*pb.LookupResponse, error) {
			reqs = append(reqs, proto.Clone(req).(*pb.LookupRequest))
			var resp pb.LookupResponse
			for _, k := range req.Keys {
				if keyName(k) == "b" && len(reqs) == 1 {
					resp.Deferred = append(resp.Deferred, k)
					continue
				}
				resp.Found = append(resp.Found, &pb.EntityResult{
					Entity: entity(c, keyName(k), nil),
				})
			}
			return &resp, nil
		},
	}
	c = testCollection(t, client, nil)

	q := &driver.Query{
		Predicate: disj(conj(filter("name", "=", "a")), conj(filter("name", "=", "b"))),
		BeforeQuery: func(asFunc func(interface{}) bool) error {
			var lreq *pb.LookupRequest
			if !asFunc(&lreq) {
				t.Error("asFunc did not match *pb.LookupRequest")
				return nil
			}
			lreq.ReadOptions = &pb.ReadOptions{
				ConsistencyType: &pb.ReadOptions_ReadConsistency_{ReadConsistency: pb.ReadOptions_EVENTUAL},
			}
			return nil
		},
	}
	got, err := runToMaps(ctx, c, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d Lookup calls, want 2", len(reqs))
	}
	for i, req := range reqs {
		if req.GetReadOptions().GetReadConsistency() != pb.ReadOptions_EVENTUAL {
			t.Errorf("request %d: read options %v, want EVENTUAL", i, req.GetReadOptions())
		}
	}
}

func TestRunGetQueryDisjunctFailure(t *testing.T) {
	// If any disjunct fails, the whole query fails; a partial union would
	// silently drop records.
	ctx := context.Background()
	var c *collection
	client := &fakeClient{
		runQuery: func(req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
			if req.GetQuery().GetFilter().GetPropertyFilter().GetProperty().GetName() == "status" {
				return nil, io.ErrUnexpectedEOF
			}
			return queryResponse(nil, pb.QueryResultBatch_NO_MORE_RESULTS, nil), nil
		},
	}
	c = testCollection(t, client, nil)

	q := &driver.Query{
		Predicate: disj(conj(filter("priority", ">", 3)), conj(filter("status", "=", "B"))),
	}
	if _, err := c.RunGetQuery(ctx, q); err == nil {
		t.Fatal("got nil, want error")
	}
}

func TestProjectionPaths(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	for _, test := range []struct {
		in   [][]string
		want [][]string
	}{
		{nil, nil},
		{[][]string{{"a"}}, [][]string{{"name"}, {"a"}}},
		{[][]string{{"a"}, {"name"}}, [][]string{{"a"}, {"name"}}},
	} {
		got := c.projectionPaths(&driver.Query{FieldPaths: test.in})
		if !cmp.Equal(got, test.want) {
			t.Errorf("%v: got %v, want %v", test.in, got, test.want)
		}
	}
}

func TestQueryPlanString(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	for _, test := range []struct {
		q    *driver.Query
		want string
	}{
		{
			&driver.Query{Predicate: disj(conj(filter("name", "=", "a")), conj(filter("name", "=", "b")))},
			"Lookup(2 keys)",
		},
		{
			&driver.Query{Predicate: conj(filter("status", "=", "open"))},
			"RunQuery",
		},
		{
			&driver.Query{
				Predicate: disj(conj(filter("status", "=", "open")), conj(filter("priority", ">", 3))),
				OrderBy:   []driver.Ordering{{Field: "priority", Ascending: true}},
				Limit:     2,
			},
			"RunQuery union of 2 disjuncts; client-side merge, sort, limit 2",
		},
	} {
		got, err := c.QueryPlan(test.q)
		if err != nil {
			t.Fatal(err)
		}
		if got != test.want {
			t.Errorf("got %q, want %q", got, test.want)
		}
	}
}

// runToMaps collects all of a query's results as map records, sorted only as
// the driver returns them.
func runToMaps(ctx context.Context, c *collection, q *driver.Query) ([]map[string]interface{}, error) {
	it, err := c.RunGetQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	defer it.Stop()
	var got []map[string]interface{}
	for {
		m := map[string]interface{}{}
		doc, err := driver.NewDocument(m)
		if err != nil {
			return nil, err
		}
		err = it.Next(ctx, doc)
		if err == io.EOF {
			return got, nil
		}
		if err != nil {
			return nil, err
		}
		got = append(got, m)
	}
}

func queryResponse(ents []*pb.Entity, more pb.QueryResultBatch_MoreResultsType, cursor []byte) *pb.RunQueryResponse {
	var ers []*pb.EntityResult
	for _, e := range ents {
		ers = append(ers, &pb.EntityResult{Entity: e})
	}
	return &pb.RunQueryResponse{
		Batch: &pb.QueryResultBatch{
			EntityResults: ers,
			MoreResults:   more,
			EndCursor:     cursor,
		},
	}
}
