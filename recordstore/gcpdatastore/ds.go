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

// Package gcpdatastore provides a recordstore implementation backed by Google
// Cloud Datastore.
// Use OpenCollection to construct a *recordstore.Collection.
//
// Keys
//
// gcpdatastore requires that a single string field, keyField, be designated
// the key. Its values must be unique over all records in the collection. The
// key field is stored in the entity key's leaf path element, not as an entity
// property.
//
// Queries
//
// Datastore natively runs only conjunctive queries. This driver normalizes a
// query's predicate into disjunctive normal form and issues one native query
// per disjunct, then merges the results: duplicates are dropped, the sort
// directives are re-applied, and the limit is enforced after the merge, so a
// query over several disjuncts behaves exactly like one over a single
// conjunction. When every disjunct pins the key field with an equality, the
// driver skips queries entirely, fetches the records with a Lookup RPC, and
// evaluates any remaining filters in memory.
//
// Queries that combine equalities with inequalities, or inequalities with
// sort orders, may require a composite index. This driver surfaces the
// service's error; you must create the index manually.
//
// As
//
// gcpdatastore exposes the following types for As:
// - Collection.As: pb.DatastoreClient
// - ActionList.BeforeDo: *pb.LookupRequest or *pb.CommitRequest
// - Query.BeforeQuery: *pb.LookupRequest or []*pb.RunQueryRequest
// - RecordIterator.As: *pb.RunQueryResponse (single-disjunct queries)
// - Collection.ErrorAs: *status.Status
//
// The pb package is google.golang.org/genproto/googleapis/datastore/v1.
package gcpdatastore // import "entitykit.dev/recordstore/gcpdatastore"

import (
	"context"
	"os"
	"reflect"

	"entitykit.dev/internal/gcerr"
	"entitykit.dev/recordstore"
	"entitykit.dev/recordstore/driver"
	"github.com/google/wire"
	"golang.org/x/oauth2"
	pb "google.golang.org/genproto/googleapis/datastore/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/oauth"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const endpoint = "datastore.googleapis.com:443"

// Dial opens a gRPC connection to the Datastore API and returns a client to
// use with OpenCollection, along with a clean-up function to close the
// connection after use.
// If the DATASTORE_EMULATOR_HOST environment variable is set, Dial connects
// to the emulator at that address instead, without credentials.
func Dial(ctx context.Context, ts oauth2.TokenSource) (pb.DatastoreClient, func(), error) {
	if host := os.Getenv("DATASTORE_EMULATOR_HOST"); host != "" {
		conn, err := grpc.DialContext(ctx, host, grpc.WithInsecure())
		if err != nil {
			return nil, nil, err
		}
		return pb.NewDatastoreClient(conn), func() { conn.Close() }, nil
	}
	conn, err := grpc.DialContext(ctx, endpoint,
		grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")),
		grpc.WithPerRPCCredentials(oauth.TokenSource{TokenSource: ts}),
	)
	if err != nil {
		return nil, nil, err
	}
	return pb.NewDatastoreClient(conn), func() { conn.Close() }, nil
}

// Set holds Wire providers for this package.
var Set = wire.NewSet(Dial)

// Options contains optional arguments to OpenCollection.
type Options struct {
	// TenantID identifies the tenant whose records the collection holds.
	// The Namespace strategy maps it to a Datastore namespace; the empty
	// tenant uses the default namespace.
	TenantID string

	// Namespace maps tenants to Datastore namespaces.
	// Defaults to PassthroughNamespace.
	Namespace NamespaceStrategy

	// Ancestor, if non-nil, scopes the collection to the descendants of the
	// given key: its path elements prefix every record key, and every query
	// carries the corresponding HAS_ANCESTOR constraint. Only the key's
	// path is used; its partition is replaced by the collection's.
	Ancestor *pb.Key

	// KindOverrides renames kinds and key fields per logical kind.
	KindOverrides KindOverrides

	// MaxOutstandingActionRPCs is the maximum number of RPCs that can be in
	// progress for a single call to ActionList.Do.
	// If less than 1, there is no limit.
	MaxOutstandingActionRPCs int

	// MaxOutstandingQueryRPCs is the maximum number of native queries that
	// can be in progress for a single query. With 1, the disjuncts of a
	// query run sequentially.
	// If less than 1, there is no limit.
	MaxOutstandingQueryRPCs int
}

type collection struct {
	client      pb.DatastoreClient
	projectID   string
	kind        string // stored kind, after overrides
	keyField    string // record field holding the key, after overrides
	partitionID *pb.PartitionId
	ancestor    *pb.Key
	opts        *Options
}

// OpenCollection creates a *recordstore.Collection representing the entities
// of the given kind in a Cloud Datastore project.
//
// keyField designates the record field holding the key. Its values must be
// strings, unique over all records of the kind.
func OpenCollection(client pb.DatastoreClient, projectID, kind, keyField string, opts *Options) (*recordstore.Collection, error) {
	c, err := newCollection(client, projectID, kind, keyField, opts)
	if err != nil {
		return nil, err
	}
	return recordstore.NewCollection(c), nil
}

func newCollection(client pb.DatastoreClient, projectID, kind, keyField string, opts *Options) (*collection, error) {
	if client == nil {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "client must be provided")
	}
	if projectID == "" || kind == "" {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "projectID and kind must be provided")
	}
	if keyField == "" {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "keyField must be provided")
	}
	if opts == nil {
		opts = &Options{}
	}
	ns := opts.Namespace
	if ns == nil {
		ns = PassthroughNamespace{}
	}
	kind, keyField = opts.KindOverrides.resolve(kind, keyField)
	c := &collection{
		client:    client,
		projectID: projectID,
		kind:      kind,
		keyField:  keyField,
		partitionID: &pb.PartitionId{
			ProjectId:   projectID,
			NamespaceId: ns.PartitionIDFor(opts.TenantID),
		},
		opts: opts,
	}
	if opts.Ancestor != nil {
		if len(opts.Ancestor.Path) == 0 {
			return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "ancestor key has no path")
		}
		c.ancestor = &pb.Key{PartitionId: c.partitionID, Path: opts.Ancestor.Path}
	}
	return c, nil
}

// Key returns the record key, if present: the value of the field named by
// the collection's keyField.
func (c *collection) Key(doc driver.Document) (interface{}, error) {
	name, err := doc.GetField(c.keyField)
	if err != nil {
		// missing field is not an error
		return nil, nil
	}
	// Check the reflect kind, so any type whose underlying type is string
	// works as a key. E.g. "type TaskID string".
	vn := reflect.ValueOf(name)
	if vn.Kind() != reflect.String {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "key field %q with value %v is not a string",
			c.keyField, name)
	}
	sname := vn.String()
	if sname == "" { // empty string is the same as missing
		return nil, nil
	}
	return sname, nil
}

// Datastore service limits on a single RPC.
const (
	maxKeysPerLookup      = 1000
	maxMutationsPerCommit = 500
)

// RunActions implements driver.RunActions.
func (c *collection) RunActions(ctx context.Context, actions []*driver.Action, opts *driver.RunActionsOptions) driver.ActionListError {
	errs := make([]error, len(actions))
	beforeGets, gets, writes, afterGets := driver.GroupActions(actions)
	calls := c.buildCommitCalls(writes, errs)
	// runGets does not issue concurrent RPCs, so it doesn't need a throttle.
	c.runGets(ctx, beforeGets, errs, opts)
	t := driver.NewThrottle(c.opts.MaxOutstandingActionRPCs)
	for _, call := range calls {
		call := call
		t.Acquire()
		go func() {
			defer t.Release()
			c.doCommitCall(ctx, call, errs, opts)
		}()
	}
	t.Acquire()
	c.runGets(ctx, gets, errs, opts)
	t.Release()
	t.Wait()
	c.runGets(ctx, afterGets, errs, opts)
	return driver.NewActionListError(errs)
}

// runGets executes a group of Get actions with Lookup RPCs. The Lookup RPC
// has no projection, so all gets with the same field paths share a request
// and the mask is applied while decoding.
func (c *collection) runGets(ctx context.Context, actions []*driver.Action, errs []error, opts *driver.RunActionsOptions) {
	for _, group := range driver.GroupByFieldPath(actions) {
		for len(group) > 0 {
			n := len(group)
			if n > maxKeysPerLookup {
				n = maxKeysPerLookup
			}
			c.batchLookup(ctx, group[:n], errs, opts)
			group = group[n:]
		}
	}
}

// batchLookup runs a single group of Get actions through the Lookup RPC,
// following deferred keys until the response is complete. It populates errs,
// a slice of per-action errors indexed by the original action list position.
func (c *collection) batchLookup(ctx context.Context, gets []*driver.Action, errs []error, opts *driver.RunActionsOptions) {
	setErr := func(err error) {
		for _, g := range gets {
			errs[g.Index] = err
		}
	}

	req := &pb.LookupRequest{ProjectId: c.projectID}
	indexByKey := map[string]int{} // from key identity to index in gets
	for i, a := range gets {
		k := c.keyFor(a.Key.(string))
		req.Keys = append(req.Keys, k)
		indexByKey[keyString(k)] = i
	}
	if opts.BeforeDo != nil {
		if err := opts.BeforeDo(driver.AsFunc(req)); err != nil {
			setErr(err)
			return
		}
	}
	found := map[string]bool{}
	for {
		resp, err := c.client.Lookup(c.withResourceHeader(ctx), req)
		if err != nil {
			setErr(err)
			return
		}
		for _, er := range resp.Found {
			ks := keyString(er.Entity.Key)
			i, ok := indexByKey[ks]
			if !ok {
				setErr(gcerr.Newf(gcerr.Internal, nil, "no index for key %s", ks))
				return
			}
			found[ks] = true
			errs[gets[i].Index] = decodeEntity(er.Entity, gets[i].Doc, c.keyField, gets[i].FieldPaths)
		}
		for _, er := range resp.Missing {
			ks := keyString(er.Entity.Key)
			if i, ok := indexByKey[ks]; ok {
				found[ks] = true
				errs[gets[i].Index] = gcerr.Newf(gcerr.NotFound, nil, "record with key %q is missing", gets[i].Key)
			}
		}
		if len(resp.Deferred) == 0 {
			break
		}
		req.Keys = resp.Deferred
	}
	// The service contract says every key comes back found, missing or
	// deferred, but don't leave silent nil errors if it doesn't.
	for ks, i := range indexByKey {
		if !found[ks] {
			errs[gets[i].Index] = gcerr.Newf(gcerr.Internal, nil, "lookup dropped key %q", gets[i].Key)
		}
	}
}

// commitCall holds information needed to make a Commit RPC and to follow up
// after it is done.
type commitCall struct {
	muts     []*pb.Mutation
	actions  []*driver.Action // actions corresponding to those mutations
	newNames []string         // new names for Create; parallel to actions
}

// buildCommitCalls converts the write actions into mutations, split into
// Commit calls of at most maxMutationsPerCommit. Each Commit is atomic.
func (c *collection) buildCommitCalls(actions []*driver.Action, errs []error) []*commitCall {
	var calls []*commitCall
	call := &commitCall{}
	for _, a := range actions {
		mut, nn, err := c.actionToMutation(a)
		if err != nil {
			errs[a.Index] = err
			continue
		}
		if len(call.muts) == maxMutationsPerCommit {
			calls = append(calls, call)
			call = &commitCall{}
		}
		call.muts = append(call.muts, mut)
		call.actions = append(call.actions, a)
		call.newNames = append(call.newNames, nn)
	}
	if len(call.muts) > 0 {
		calls = append(calls, call)
	}
	return calls
}

// actionToMutation converts a write action to a Datastore mutation. For a
// Create without a key, a unique name is generated and returned so it can be
// written back to the record after the commit succeeds.
func (c *collection) actionToMutation(a *driver.Action) (*pb.Mutation, string, error) {
	var docName, newName string
	if a.Key != nil {
		docName = a.Key.(string)
	}
	switch a.Kind {
	case driver.Create:
		if a.Key == nil {
			docName = driver.UniqueString()
			newName = docName
		}
		e, err := encodeEntity(a.Doc, c.keyFor(docName), c.keyField)
		if err != nil {
			return nil, "", err
		}
		return &pb.Mutation{Operation: &pb.Mutation_Insert{Insert: e}}, newName, nil

	case driver.Put:
		e, err := encodeEntity(a.Doc, c.keyFor(docName), c.keyField)
		if err != nil {
			return nil, "", err
		}
		return &pb.Mutation{Operation: &pb.Mutation_Upsert{Upsert: e}}, "", nil

	case driver.Delete:
		return &pb.Mutation{Operation: &pb.Mutation_Delete{Delete: c.keyFor(docName)}}, "", nil

	default:
		return nil, "", gcerr.Newf(gcerr.Internal, nil, "bad action %+v", a)
	}
}

// doCommitCall calls the Commit RPC with the mutations of one call and
// handles the results.
func (c *collection) doCommitCall(ctx context.Context, call *commitCall, errs []error, opts *driver.RunActionsOptions) {
	setErr := func(err error) {
		for _, a := range call.actions {
			errs[a.Index] = err
		}
	}

	req := &pb.CommitRequest{
		ProjectId: c.projectID,
		Mode:      pb.CommitRequest_NON_TRANSACTIONAL,
		Mutations: call.muts,
	}
	if opts.BeforeDo != nil {
		if err := opts.BeforeDo(driver.AsFunc(req)); err != nil {
			setErr(err)
			return
		}
	}
	resp, err := c.client.Commit(c.withResourceHeader(ctx), req)
	if err != nil {
		setErr(err)
		return
	}
	if len(resp.MutationResults) != len(call.muts) {
		setErr(gcerr.Newf(gcerr.Internal, nil, "wrong number of MutationResults from datastore commit"))
		return
	}
	// Set generated names for Create actions.
	for i, a := range call.actions {
		if call.newNames[i] != "" {
			_ = a.Doc.SetField(c.keyField, call.newNames[i])
		}
	}
}

func (c *collection) ErrorCode(err error) gcerr.ErrorCode {
	return gcerr.GRPCCode(err)
}

// resourcePrefixHeader is the name of the metadata header used to indicate
// the resource being operated on, which the service uses for routing.
const resourcePrefixHeader = "google-cloud-resource-prefix"

func (c *collection) withResourceHeader(ctx context.Context) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md[resourcePrefixHeader] = []string{"projects/" + c.projectID}
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *collection) As(i interface{}) bool {
	p, ok := i.(*pb.DatastoreClient)
	if !ok {
		return false
	}
	*p = c.client
	return true
}

func (c *collection) ErrorAs(err error, i interface{}) bool {
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	p, ok := i.(**status.Status)
	if !ok {
		return false
	}
	*p = s
	return true
}

// Close implements driver.Collection.Close. The connection is owned by the
// caller of OpenCollection, so there is nothing to release.
func (c *collection) Close() error { return nil }
