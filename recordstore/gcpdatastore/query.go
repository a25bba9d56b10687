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
	"fmt"
	"io"
	"sort"
	"strings"

	"entitykit.dev/gcerrors"
	"entitykit.dev/internal/gcerr"
	"entitykit.dev/recordstore/driver"
	"github.com/golang/protobuf/ptypes/wrappers"
	pb "google.golang.org/genproto/googleapis/datastore/v1"
)

// keyProperty is the pseudo-property Datastore uses to filter and sort on
// entity keys.
const keyProperty = "__key__"

// A queryPlan is the driver's execution strategy for one portable query,
// fixed before any RPC is issued. Exactly one of lookupKeys and queries is
// set.
type queryPlan struct {
	lookupKeys []*pb.Key   // fetch these keys with Lookup, skip queries
	queries    []*pb.Query // one native query per disjunct

	post       *driver.Predicate // filter re-applied in memory, for the lookup path
	localSort  bool              // re-apply sort directives after the merge
	orderBy    []driver.Ordering // sort directives, for the local sort
	localLimit int               // cap applied after the merge; 0 means none
	dedup      bool              // drop duplicate keys across disjuncts
}

// planQuery normalizes the query's predicate into disjunctive normal form and
// decides how to execute it: a Lookup when every disjunct pins the key field
// with an equality, one native query when there is a single disjunct, or
// several native queries whose results are merged client-side.
func (c *collection) planQuery(q *driver.Query) (*queryPlan, error) {
	dnf, err := driver.NormalizeDNF(q.Predicate)
	if err != nil {
		return nil, err
	}
	groups, err := driver.Conjunctions(dnf)
	if err != nil {
		return nil, err
	}

	if keys, ok := c.keyEqualities(groups); ok {
		// Lookup returns entities in arbitrary order, so sorting and the
		// limit are always local on this path. Lookup cannot express any
		// filter, so the original predicate is re-applied in memory; that
		// also evaluates whatever residual filters accompany the key
		// equalities in their disjuncts.
		return &queryPlan{
			lookupKeys: keys,
			post:       q.Predicate,
			localSort:  len(q.OrderBy) > 0,
			orderBy:    q.OrderBy,
			localLimit: q.Limit,
		}, nil
	}

	multi := len(groups) > 1
	queries := make([]*pb.Query, len(groups))
	for i, g := range groups {
		pq, err := c.compileQuery(q, g, !multi)
		if err != nil {
			if multi {
				return nil, gcerr.Newf(gcerrors.Code(err), err, "disjunct %d", i)
			}
			return nil, err
		}
		queries[i] = pq
	}
	plan := &queryPlan{queries: queries, dedup: multi}
	if multi {
		// The limit cannot be pushed down: a disjunct may contribute
		// duplicates, so no prefix of its results is known to suffice.
		plan.localSort = len(q.OrderBy) > 0
		plan.orderBy = q.OrderBy
		plan.localLimit = q.Limit
	}
	return plan, nil
}

// keyEqualities reports whether every disjunct contains an equality on the
// key field with a string value, and if so returns the keys to look up,
// without duplicates. A disjunct may carry further filters alongside its key
// equality: any record it matches still has that key, so the lookup fetches a
// superset and the caller's re-applied predicate evaluates the residue.
func (c *collection) keyEqualities(groups [][]driver.Filter) ([]*pb.Key, bool) {
	var keys []*pb.Key
	seen := map[string]bool{}
	for _, g := range groups {
		var name string
		found := false
		for _, f := range g {
			if driver.FieldPathEqualsField(f.FieldPath, c.keyField) &&
				f.Op == driver.EqualOp && f.Value.Kind() == driver.String {
				name = f.Value.Interface().(string)
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
		if !seen[name] {
			seen[name] = true
			keys = append(keys, c.keyFor(name))
		}
	}
	return keys, true
}

// compileQuery translates one disjunct into a native query. The sort
// directives are always pushed down; the limit only when the disjunct runs
// alone, since a merged result cannot be capped per query.
func (c *collection) compileQuery(q *driver.Query, g []driver.Filter, pushLimit bool) (*pb.Query, error) {
	pq := &pb.Query{Kind: []*pb.KindExpression{{Name: c.kind}}}
	f, err := c.compileFilter(g)
	if err != nil {
		return nil, err
	}
	pq.Filter = f
	for _, ob := range q.OrderBy {
		prop := ob.Field
		if prop == c.keyField {
			prop = keyProperty
		}
		dir := pb.PropertyOrder_ASCENDING
		if !ob.Ascending {
			dir = pb.PropertyOrder_DESCENDING
		}
		pq.Order = append(pq.Order, &pb.PropertyOrder{
			Property:  &pb.PropertyReference{Name: prop},
			Direction: dir,
		})
	}
	if pushLimit && q.Limit > 0 {
		pq.Limit = &wrappers.Int32Value{Value: int32(q.Limit)}
	}
	return pq, nil
}

// compileFilter builds the native filter for one disjunct: the conjunction of
// its comparisons and, when the collection has an ancestor, the HAS_ANCESTOR
// constraint. Datastore composes filters with AND only; that is exactly what
// a disjunct needs.
func (c *collection) compileFilter(g []driver.Filter) (*pb.Filter, error) {
	var pfs []*pb.Filter
	for _, f := range g {
		pf, err := c.filterToProto(f)
		if err != nil {
			return nil, err
		}
		pfs = append(pfs, pf)
	}
	if c.ancestor != nil {
		pfs = append(pfs, &pb.Filter{
			FilterType: &pb.Filter_PropertyFilter{PropertyFilter: &pb.PropertyFilter{
				Property: &pb.PropertyReference{Name: keyProperty},
				Op:       pb.PropertyFilter_HAS_ANCESTOR,
				Value:    &pb.Value{ValueType: &pb.Value_KeyValue{KeyValue: c.ancestor}},
			}},
		})
	}
	if len(pfs) == 0 {
		return nil, nil
	}
	if len(pfs) == 1 {
		return pfs[0], nil
	}
	return &pb.Filter{
		FilterType: &pb.Filter_CompositeFilter{CompositeFilter: &pb.CompositeFilter{
			Op:      pb.CompositeFilter_AND,
			Filters: pfs,
		}},
	}, nil
}

func (c *collection) filterToProto(f driver.Filter) (*pb.Filter, error) {
	var op pb.PropertyFilter_Operator
	switch f.Op {
	case "<":
		op = pb.PropertyFilter_LESS_THAN
	case "<=":
		op = pb.PropertyFilter_LESS_THAN_OR_EQUAL
	case ">":
		op = pb.PropertyFilter_GREATER_THAN
	case ">=":
		op = pb.PropertyFilter_GREATER_THAN_OR_EQUAL
	case driver.EqualOp:
		op = pb.PropertyFilter_EQUAL
	default:
		// The portable layer validates operators; an unknown one here is a
		// contract violation.
		return nil, gcerr.Newf(gcerr.Internal, nil, "unknown filter operator %q", f.Op)
	}
	if driver.FieldPathEqualsField(f.FieldPath, c.keyField) {
		if f.Value.Kind() != driver.String {
			return nil, gcerr.Newf(gcerr.InvalidArgument, nil,
				"filter value for key field %q must be a string, got %v", c.keyField, f.Value)
		}
		return &pb.Filter{
			FilterType: &pb.Filter_PropertyFilter{PropertyFilter: &pb.PropertyFilter{
				Property: &pb.PropertyReference{Name: keyProperty},
				Op:       op,
				Value:    &pb.Value{ValueType: &pb.Value_KeyValue{KeyValue: c.keyFor(f.Value.Interface().(string))}},
			}},
		}, nil
	}
	pv, err := encodeFilterValue(f.Value)
	if err != nil {
		return nil, err
	}
	return &pb.Filter{
		FilterType: &pb.Filter_PropertyFilter{PropertyFilter: &pb.PropertyFilter{
			Property: &pb.PropertyReference{Name: strings.Join(f.FieldPath, ".")},
			Op:       op,
			Value:    pv,
		}},
	}, nil
}

// RunGetQuery implements driver.RunGetQuery.
func (c *collection) RunGetQuery(ctx context.Context, q *driver.Query) (driver.DocumentIterator, error) {
	plan, err := c.planQuery(q)
	if err != nil {
		return nil, err
	}
	fps := c.projectionPaths(q)
	if plan.lookupKeys != nil {
		return c.runLookupQuery(ctx, q, plan, fps)
	}

	reqs := make([]*pb.RunQueryRequest, len(plan.queries))
	for i, pq := range plan.queries {
		reqs[i] = &pb.RunQueryRequest{
			ProjectId:   c.projectID,
			PartitionId: c.partitionID,
			QueryType:   &pb.RunQueryRequest_Query{Query: pq},
		}
	}
	if q.BeforeQuery != nil {
		if err := q.BeforeQuery(driver.AsFunc(reqs)); err != nil {
			return nil, err
		}
	}
	if len(reqs) == 1 && !plan.localSort && !plan.dedup && plan.localLimit == 0 {
		// A single disjunct runs as one native query with everything pushed
		// down, streaming batch by batch. The first batch is fetched here so
		// the call's latency and errors surface on RunGetQuery itself.
		it := &queryIterator{
			c:         c,
			req:       reqs[0],
			remaining: q.Limit,
			fps:       fps,
		}
		if err := it.nextBatch(ctx); err != nil {
			return nil, err
		}
		return it, nil
	}
	ents, err := c.runDisjuncts(ctx, reqs)
	if err != nil {
		return nil, err
	}
	ents = c.mergeResults(ents, plan)
	return &sliceIterator{c: c, ents: ents, fps: fps}, nil
}

// projectionPaths returns the field paths to set on iterated records. The
// key field is always included, so every result carries its identity.
func (c *collection) projectionPaths(q *driver.Query) [][]string {
	if len(q.FieldPaths) == 0 {
		return nil
	}
	for _, fp := range q.FieldPaths {
		if driver.FieldPathEqualsField(fp, c.keyField) {
			return q.FieldPaths
		}
	}
	return append([][]string{{c.keyField}}, q.FieldPaths...)
}

// runLookupQuery fetches the planned keys with Lookup RPCs, re-applies the
// query's predicate in memory, and sorts and caps the result.
func (c *collection) runLookupQuery(ctx context.Context, q *driver.Query, plan *queryPlan, fps [][]string) (driver.DocumentIterator, error) {
	req := &pb.LookupRequest{ProjectId: c.projectID, Keys: plan.lookupKeys}
	if q.BeforeQuery != nil {
		if err := q.BeforeQuery(driver.AsFunc(req)); err != nil {
			return nil, err
		}
	}
	var ents []*pb.Entity
	pending := req.Keys
	for len(pending) > 0 {
		n := len(pending)
		if n > maxKeysPerLookup {
			n = maxKeysPerLookup
		}
		// The callback's request is reused for every batch, so changes it
		// made beyond the key list (such as read options) apply to each
		// Lookup call.
		req.Keys = pending[:n]
		resp, err := c.client.Lookup(c.withResourceHeader(ctx), req)
		if err != nil {
			return nil, err
		}
		for _, er := range resp.Found {
			ents = append(ents, er.Entity)
		}
		// Keys that are missing simply contribute no records.
		pending = append(resp.Deferred, pending[n:]...)
	}

	if !plan.post.IsEmpty() {
		kept := ents[:0]
		for _, e := range ents {
			doc, err := c.entityDoc(e)
			if err != nil {
				return nil, err
			}
			ok, err := plan.post.Matches(doc)
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, e)
			}
		}
		ents = kept
	}
	ents = c.mergeResults(ents, plan)
	return &sliceIterator{c: c, ents: ents, fps: fps}, nil
}

// runDisjuncts runs the native queries, each to exhaustion, with at most
// MaxOutstandingQueryRPCs in flight. If any disjunct fails the whole query
// fails; a partial union would silently drop records.
func (c *collection) runDisjuncts(ctx context.Context, reqs []*pb.RunQueryRequest) ([]*pb.Entity, error) {
	results := make([][]*pb.Entity, len(reqs))
	errs := make([]error, len(reqs))
	t := driver.NewThrottle(c.opts.MaxOutstandingQueryRPCs)
	for i, req := range reqs {
		i, req := i, req
		t.Acquire()
		go func() {
			defer t.Release()
			results[i], errs[i] = c.gatherQuery(ctx, req)
		}()
	}
	t.Wait()
	for i, err := range errs {
		if err != nil {
			if len(reqs) > 1 {
				return nil, gcerr.Newf(gcerr.GRPCCode(err), err, "disjunct %d", i)
			}
			return nil, err
		}
	}
	var ents []*pb.Entity
	for _, r := range results {
		ents = append(ents, r...)
	}
	return ents, nil
}

// gatherQuery runs one native query to exhaustion, following result batches
// until the service reports no more results.
func (c *collection) gatherQuery(ctx context.Context, req *pb.RunQueryRequest) ([]*pb.Entity, error) {
	var ents []*pb.Entity
	for {
		resp, err := c.client.RunQuery(c.withResourceHeader(ctx), req)
		if err != nil {
			return nil, err
		}
		batch := resp.GetBatch()
		if batch == nil {
			return nil, gcerr.Newf(gcerr.Internal, nil, "datastore returned no result batch")
		}
		for _, er := range batch.EntityResults {
			ents = append(ents, er.Entity)
		}
		if batch.MoreResults != pb.QueryResultBatch_NOT_FINISHED {
			return ents, nil
		}
		req.GetQuery().StartCursor = batch.EndCursor
	}
}

// mergeResults performs the client-side part of the plan: duplicate
// elimination, sorting and the limit, in that order.
func (c *collection) mergeResults(ents []*pb.Entity, plan *queryPlan) []*pb.Entity {
	if plan.dedup {
		seen := map[string]bool{}
		kept := ents[:0]
		for _, e := range ents {
			ks := keyString(e.Key)
			if !seen[ks] {
				seen[ks] = true
				kept = append(kept, e)
			}
		}
		ents = kept
	}
	if plan.localSort {
		c.sortEntities(ents, plan.orderBy)
	}
	if plan.localLimit > 0 && len(ents) > plan.localLimit {
		ents = ents[:plan.localLimit]
	}
	return ents
}

// sortEntities sorts ents by the given orderings. The sort is stable:
// entities that compare equal on every sort key keep the order the store
// returned them in. An entity missing a sort field, or one whose value is
// incomparable with another's, is treated as smaller.
func (c *collection) sortEntities(ents []*pb.Entity, orderBy []driver.Ordering) {
	sort.SliceStable(ents, func(i, j int) bool {
		for _, ob := range orderBy {
			vi, oki := c.sortValue(ents[i], ob.Field)
			vj, okj := c.sortValue(ents[j], ob.Field)
			var cmp int
			switch {
			case !oki && !okj:
				continue
			case !oki:
				cmp = -1
			case !okj:
				cmp = 1
			default:
				var err error
				cmp, err = driver.CompareValues(vi, vj)
				if err != nil {
					continue
				}
			}
			if cmp == 0 {
				continue
			}
			if ob.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

// sortValue extracts the comparison value of a top-level field, reading the
// key field from the entity key.
func (c *collection) sortValue(e *pb.Entity, field string) (driver.Value, bool) {
	if field == c.keyField {
		return driver.StringValue(keyName(e.Key)), true
	}
	pv, ok := e.Properties[field]
	if !ok {
		return driver.Value{}, false
	}
	x, err := decodeValue(pv)
	if err != nil {
		return driver.Value{}, false
	}
	v, err := driver.ValueOf(x)
	if err != nil {
		return driver.Value{}, false
	}
	return v, true
}

// entityDoc decodes an entity into a fresh map document, for in-memory
// filter evaluation.
func (c *collection) entityDoc(e *pb.Entity) (driver.Document, error) {
	m := map[string]interface{}{}
	doc, err := driver.NewDocument(m)
	if err != nil {
		return driver.Document{}, err
	}
	if err := decodeEntity(e, doc, c.keyField, nil); err != nil {
		return driver.Document{}, err
	}
	return doc, nil
}

// queryIterator streams the results of a single native query, fetching
// batches on demand.
type queryIterator struct {
	c         *collection
	req       *pb.RunQueryRequest
	ents      []*pb.Entity // current batch
	idx       int
	done      bool
	remaining int // with a limit, results still owed; ignored otherwise
	fps       [][]string
	lastResp  *pb.RunQueryResponse
}

func (it *queryIterator) Next(ctx context.Context, doc driver.Document) error {
	for it.idx >= len(it.ents) {
		if it.done {
			return io.EOF
		}
		if err := it.nextBatch(ctx); err != nil {
			return err
		}
	}
	e := it.ents[it.idx]
	it.idx++
	return decodeEntity(e, doc, it.c.keyField, it.fps)
}

func (it *queryIterator) nextBatch(ctx context.Context) error {
	resp, err := it.c.client.RunQuery(it.c.withResourceHeader(ctx), it.req)
	if err != nil {
		return err
	}
	it.lastResp = resp
	batch := resp.GetBatch()
	if batch == nil {
		return gcerr.Newf(gcerr.Internal, nil, "datastore returned no result batch")
	}
	it.ents = nil
	for _, er := range batch.EntityResults {
		it.ents = append(it.ents, er.Entity)
	}
	it.idx = 0
	limited := it.req.GetQuery().GetLimit() != nil
	if limited {
		it.remaining -= len(it.ents)
		if it.remaining <= 0 {
			it.done = true
			return nil
		}
	}
	if batch.MoreResults != pb.QueryResultBatch_NOT_FINISHED {
		it.done = true
		return nil
	}
	q := it.req.GetQuery()
	q.StartCursor = batch.EndCursor
	if limited {
		q.Limit = &wrappers.Int32Value{Value: int32(it.remaining)}
	}
	return nil
}

func (it *queryIterator) Stop() { it.done = true; it.ents = nil; it.idx = 0 }

func (it *queryIterator) As(i interface{}) bool {
	if it.lastResp == nil {
		return false
	}
	p, ok := i.(**pb.RunQueryResponse)
	if !ok {
		return false
	}
	*p = it.lastResp
	return true
}

// sliceIterator iterates over results already gathered and merged in memory.
type sliceIterator struct {
	c    *collection
	ents []*pb.Entity
	idx  int
	fps  [][]string
}

func (it *sliceIterator) Next(ctx context.Context, doc driver.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if it.idx >= len(it.ents) {
		return io.EOF
	}
	e := it.ents[it.idx]
	it.idx++
	return decodeEntity(e, doc, it.c.keyField, it.fps)
}

func (it *sliceIterator) Stop() { it.idx = len(it.ents) }

func (it *sliceIterator) As(i interface{}) bool { return false }

// QueryPlan implements driver.QueryPlan.
func (c *collection) QueryPlan(q *driver.Query) (string, error) {
	plan, err := c.planQuery(q)
	if err != nil {
		return "", err
	}
	if plan.lookupKeys != nil {
		return fmt.Sprintf("Lookup(%d keys)", len(plan.lookupKeys)), nil
	}
	if len(plan.queries) == 1 {
		return "RunQuery", nil
	}
	var extras []string
	if plan.localSort {
		extras = append(extras, "sort")
	}
	if plan.localLimit > 0 {
		extras = append(extras, fmt.Sprintf("limit %d", plan.localLimit))
	}
	s := fmt.Sprintf("RunQuery union of %d disjuncts; client-side merge", len(plan.queries))
	if len(extras) > 0 {
		s += ", " + strings.Join(extras, ", ")
	}
	return s, nil
}
