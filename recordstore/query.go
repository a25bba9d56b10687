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

package recordstore

import (
	"context"
	"io"

	"entitykit.dev/internal/gcerr"
	"entitykit.dev/recordstore/driver"
)

// Query represents a query over a collection.
type Query struct {
	coll *Collection
	dq   *driver.Query
	err  error
}

// Query creates a new Query over the collection.
func (c *Collection) Query() *Query {
	return &Query{coll: c, dq: &driver.Query{}}
}

// Where expresses a condition on the query. All Where conditions of a query
// must hold for a record to be returned; to express alternatives, build a
// Predicate with Any and pass it to Match.
// Valid ops are: "=", ">", "<", ">=", "<=".
// Valid values are strings, booleans, integers, floating-point numbers,
// time.Time values, byte slices, protocol buffer enums and messages.
func (q *Query) Where(fp FieldPath, op string, value interface{}) *Query {
	if q.err != nil {
		return q
	}
	f, err := toFilter(fp, op, value)
	if err != nil {
		q.err = err
		return q
	}
	q.rootPredicate().Params = append(q.rootPredicate().Params, f)
	return q
}

// Match adds a predicate to the query. The predicate must hold, in addition
// to any Where conditions, for a record to be returned. Build predicates with
// Cond, All and Any.
func (q *Query) Match(p *Predicate) *Query {
	if q.err != nil {
		return q
	}
	if p == nil {
		return q
	}
	if p.err != nil {
		q.err = p.err
		return q
	}
	if !p.p.IsEmpty() {
		q.rootPredicate().Subs = append(q.rootPredicate().Subs, p.p)
	}
	return q
}

// rootPredicate returns the query's top-level conjunction, creating it if
// necessary.
func (q *Query) rootPredicate() *driver.Predicate {
	if q.dq.Predicate == nil {
		q.dq.Predicate = &driver.Predicate{Op: driver.And}
	}
	return q.dq.Predicate
}

var validOp = map[string]bool{
	"=":  true,
	">":  true,
	"<":  true,
	">=": true,
	"<=": true,
}

func toFilter(fp FieldPath, op string, value interface{}) (driver.Filter, error) {
	pfp, err := parseFieldPath(fp)
	if err != nil {
		return driver.Filter{}, err
	}
	if !validOp[op] {
		return driver.Filter{}, gcerr.Newf(gcerr.InvalidArgument, nil,
			"invalid filter operator: %q. Use one of: =, >, <, >=, <=", op)
	}
	v, err := driver.ValueOf(value)
	if err != nil {
		return driver.Filter{}, err
	}
	return driver.Filter{FieldPath: pfp, Op: op, Value: v}, nil
}

// A Predicate is a boolean combination of conditions on record fields. Build
// one with Cond, All and Any, then attach it to a query with Query.Match.
//
// A Predicate holds any construction error until the query runs, so builders
// can be chained without intermediate error checks.
type Predicate struct {
	p   *driver.Predicate
	err error
}

// Cond returns a Predicate holding a single comparison. It accepts the same
// operators and values as Query.Where.
func Cond(fp FieldPath, op string, value interface{}) *Predicate {
	f, err := toFilter(fp, op, value)
	if err != nil {
		return &Predicate{err: err}
	}
	return &Predicate{p: &driver.Predicate{Op: driver.And, Params: []driver.Filter{f}}}
}

// All returns a Predicate that holds when every one of its arguments holds.
// All with no arguments matches every record.
func All(ps ...*Predicate) *Predicate {
	return combine(driver.And, ps)
}

// Any returns a Predicate that holds when at least one of its arguments holds.
// Any with no arguments matches every record.
func Any(ps ...*Predicate) *Predicate {
	return combine(driver.Or, ps)
}

func combine(op driver.LogicalOp, ps []*Predicate) *Predicate {
	d := &driver.Predicate{Op: op}
	for _, p := range ps {
		if p == nil {
			continue
		}
		if p.err != nil {
			return &Predicate{err: p.err}
		}
		d.Subs = append(d.Subs, p.p)
	}
	return &Predicate{p: d}
}

// Limit will limit the results to at most n records.
// n must be positive.
// It is an error to specify Limit more than once.
func (q *Query) Limit(n int) *Query {
	if q.err != nil {
		return q
	}
	if n <= 0 {
		return q.invalidf("limit value of %d must be greater than zero", n)
	}
	if q.dq.Limit > 0 {
		return q.invalidf("query can have at most one limit clause")
	}
	q.dq.Limit = n
	return q
}

// Ascending and Descending are constants for use in the OrderBy method.
const (
	Ascending  = "asc"
	Descending = "desc"
)

// OrderBy specifies that the returned records appear sorted by the given field
// in the given direction. OrderBy may be called multiple times; later calls
// add lower-precedence sort keys, and records that compare equal on every sort
// key keep the order the store returned them in. A field may appear at most
// once across the OrderBy calls of a query.
// If a query has no OrderBy clauses, the order of returned records is
// unspecified.
func (q *Query) OrderBy(field, direction string) *Query {
	if q.err != nil {
		return q
	}
	if field == "" {
		return q.invalidf("OrderBy: empty field")
	}
	if direction != Ascending && direction != Descending {
		return q.invalidf("OrderBy: direction must be one of %q or %q", Ascending, Descending)
	}
	for _, ob := range q.dq.OrderBy {
		if ob.Field == field {
			return q.invalidf("OrderBy: duplicate sort field %q", field)
		}
	}
	q.dq.OrderBy = append(q.dq.OrderBy, driver.Ordering{
		Field:     field,
		Ascending: direction == Ascending,
	})
	return q
}

// BeforeQuery takes a callback function that will be called before the Query
// is executed by the underlying service. The callback takes a parameter,
// asFunc, that converts its argument to driver-specific types.
func (q *Query) BeforeQuery(f func(asFunc func(interface{}) bool) error) *Query {
	q.dq.BeforeQuery = f
	return q
}

// Get returns an iterator for retrieving the records specified by the query.
// If field paths are provided, only those paths are set in the resulting
// records.
//
// Call Stop on the iterator when finished.
func (q *Query) Get(ctx context.Context, fps ...FieldPath) *RecordIterator {
	return q.get(ctx, true, fps...)
}

// get implements Get, with optional OpenCensus tracing so it can be used internally.
func (q *Query) get(ctx context.Context, oc bool, fps ...FieldPath) *RecordIterator {
	dcoll := q.coll.driver
	if err := q.initGet(fps); err != nil {
		return &RecordIterator{err: wrapError(dcoll, err)}
	}

	var err error
	if oc {
		ctx = q.coll.tracer.Start(ctx, "Query.Get")
		defer func() { q.coll.tracer.End(ctx, err) }()
	}
	it, err := dcoll.RunGetQuery(ctx, q.dq)
	return &RecordIterator{iter: it, coll: q.coll, err: wrapError(dcoll, err)}
}

func (q *Query) initGet(fps []FieldPath) error {
	if q.err != nil {
		return q.err
	}
	if err := q.coll.checkClosed(); err != nil {
		return errClosed
	}
	pfps, err := parseFieldPaths(fps)
	if err != nil {
		return err
	}
	q.dq.FieldPaths = pfps
	return nil
}

func (q *Query) invalidf(format string, args ...interface{}) *Query {
	q.err = gcerr.Newf(gcerr.InvalidArgument, nil, format, args...)
	return q
}

// RecordIterator iterates over records.
//
// Always call Stop on the iterator.
type RecordIterator struct {
	iter driver.DocumentIterator
	coll *Collection
	err  error // already wrapped
}

// Next stores the next record in dst. It returns io.EOF if there are no more
// records.
// Once Next returns an error, it will always return the same error.
func (it *RecordIterator) Next(ctx context.Context, dst Record) error {
	if it.err != nil {
		return it.err
	}
	if err := it.coll.checkClosed(); err != nil {
		it.err = err
		return it.err
	}
	ddoc, err := driver.NewDocument(dst)
	if err != nil {
		it.err = wrapError(it.coll.driver, err)
		return it.err
	}
	it.err = wrapError(it.coll.driver, it.iter.Next(ctx, ddoc))
	return it.err
}

// Stop stops the iterator. Calling Next on a stopped iterator will return
// io.EOF, or the error that Next previously returned.
func (it *RecordIterator) Stop() {
	if it.err != nil {
		return
	}
	it.err = io.EOF
	it.iter.Stop()
}

// As converts i to driver-specific types.
// See the driver package documentation for the specific types supported for
// that driver.
func (it *RecordIterator) As(i interface{}) bool {
	if i == nil || it.iter == nil {
		return false
	}
	return it.iter.As(i)
}

// Plan describes how the query would be executed if its Get method were called
// with the given field paths. Plan uses only information available to the
// client, so it cannot know whether a service uses indexes or scans
// internally.
func (q *Query) Plan(fps ...FieldPath) (string, error) {
	if err := q.initGet(fps); err != nil {
		return "", err
	}
	return q.coll.driver.QueryPlan(q.dq)
}
