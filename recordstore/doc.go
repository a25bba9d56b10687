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

// Package recordstore provides a portable API for storing and querying
// records in entity stores. Records are grouped into collections, and each
// record has a key that is unique in its collection. You can add, delete and
// retrieve records by key, and you can query a collection to retrieve records
// that match certain criteria.
//
// Subpackages contain distinct implementations ("drivers") of recordstore for
// particular storage services. Your application should import one of these
// driver subpackages and use its exported functions to create a *Collection;
// do not use the NewCollection function in this package. For example:
//
//	coll, err := gcpdatastore.OpenCollection(client, "my-project", "Task", "ID", nil)
//	if err != nil {
//	  return fmt.Errorf("opening collection: %v", err)
//	}
//	defer coll.Close()
//	// coll is a *recordstore.Collection
//
// Then, write your application code using the *Collection type, and
// reconfigure only your initialization code to switch storage services.
//
// Records
//
// A record can be represented as either a map[string]interface{} or a struct
// pointer. Using structs is recommended, because it enforces some structure on
// your data. By default, a struct's exported fields are the fields of the
// record. You can rename a field or omit it with a struct tag beginning with
// "record:", in the manner of encoding/json.
//
// Representing Data
//
// The value stored in a record field, and the value used in a query filter,
// must be one of a small closed set of types: strings, booleans, signed and
// unsigned integers, floating-point numbers, time.Time values, byte slices,
// protocol buffer enums, and protocol buffer messages. Values outside this set
// are rejected when the action or query is built, not when it reaches the
// storage service.
//
// Queries
//
// Collection.Query creates a Query. A query describes conditions on record
// fields, combined with All and Any into an arbitrary boolean tree, along with
// sort orders and a limit. Call Get on the query to obtain an iterator over
// the matching records. Drivers translate as much of the query as their
// service can execute natively and evaluate the remainder on the client, so
// the results are the same on every service.
//
// Actions
//
// An ActionList is a group of reads and writes on a single collection.
// Collection.Actions creates one; its Create, Put, Get and Delete methods add
// actions; and Do runs them. Drivers run an action list as efficiently as the
// service allows, which may reorder independent actions. The Collection
// methods Create, Put, Get and Delete are conveniences for single-element
// lists.
//
// Errors
//
// The errors returned by this package can be inspected in several ways:
//
// The Code function from entitykit.dev/gcerrors will return an error code,
// also defined in that package, when invoked on an error.
//
// The Collection.ErrorAs method can retrieve the underlying driver error from
// the returned error. See the specific driver's package doc for the supported
// types.
package recordstore // import "entitykit.dev/recordstore"
