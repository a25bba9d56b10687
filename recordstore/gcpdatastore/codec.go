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

// Encoding and decoding between recordstore values and Datastore protos.

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"entitykit.dev/internal/gcerr"
	"entitykit.dev/recordstore/driver"
	"github.com/golang/protobuf/ptypes"
	pb "google.golang.org/genproto/googleapis/datastore/v1"
)

// encodeFilterValue converts a filter value into a Datastore value.
// Every kind of driver.Value has a native representation, so this cannot
// fail except for a malformed time.
func encodeFilterValue(v driver.Value) (*pb.Value, error) {
	switch v.Kind() {
	case driver.String, driver.Message:
		return &pb.Value{ValueType: &pb.Value_StringValue{StringValue: v.Interface().(string)}}, nil
	case driver.Int, driver.Enum:
		return &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: v.Interface().(int64)}}, nil
	case driver.Float:
		return &pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: v.Interface().(float64)}}, nil
	case driver.Bool:
		return &pb.Value{ValueType: &pb.Value_BooleanValue{BooleanValue: v.Interface().(bool)}}, nil
	case driver.Time:
		ts, err := ptypes.TimestampProto(v.Interface().(time.Time))
		if err != nil {
			return nil, gcerr.Newf(gcerr.InvalidArgument, err, "cannot encode time %v", v.Interface())
		}
		return &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: ts}}, nil
	case driver.Bytes:
		return &pb.Value{ValueType: &pb.Value_BlobValue{BlobValue: v.Interface().([]byte)}}, nil
	default:
		return nil, gcerr.Newf(gcerr.Internal, nil, "unknown value kind %v", v.Kind())
	}
}

// encodeDocValue converts a record field value into a Datastore value.
// In addition to the filterable kinds, record fields may hold nil, nested
// maps and slices.
func encodeDocValue(x interface{}) (*pb.Value, error) {
	switch v := x.(type) {
	case nil:
		return &pb.Value{ValueType: &pb.Value_NullValue{}}, nil
	case map[string]interface{}:
		props, err := encodeProperties(v)
		if err != nil {
			return nil, err
		}
		return &pb.Value{ValueType: &pb.Value_EntityValue{EntityValue: &pb.Entity{Properties: props}}}, nil
	case []byte:
		// Bytes must be handled before the slice case below.
		return &pb.Value{ValueType: &pb.Value_BlobValue{BlobValue: v}}, nil
	}
	if rv := reflect.ValueOf(x); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		vals := make([]*pb.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			pv, err := encodeDocValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			vals[i] = pv
		}
		return &pb.Value{ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{Values: vals}}}, nil
	}
	dv, err := driver.ValueOf(x)
	if err != nil {
		return nil, err
	}
	return encodeFilterValue(dv)
}

func encodeProperties(m map[string]interface{}) (map[string]*pb.Value, error) {
	props := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		pv, err := encodeDocValue(v)
		if err != nil {
			return nil, gcerr.Newf(gcerr.InvalidArgument, err, "cannot encode field %q", k)
		}
		props[k] = pv
	}
	return props, nil
}

// encodeEntity converts a record into a Datastore entity with the given key.
// The key field is not stored as a property; it lives in the key path.
func encodeEntity(doc driver.Document, key *pb.Key, keyField string) (*pb.Entity, error) {
	e := &pb.Entity{Key: key, Properties: map[string]*pb.Value{}}
	for _, name := range doc.FieldNames() {
		if name == keyField {
			continue
		}
		v, err := doc.GetField(name)
		if err != nil {
			return nil, err
		}
		pv, err := encodeDocValue(v)
		if err != nil {
			return nil, gcerr.Newf(gcerr.InvalidArgument, err, "cannot encode field %q", name)
		}
		e.Properties[name] = pv
	}
	return e, nil
}

// decodeValue converts a Datastore value into the most appropriate Go type.
// Key-valued properties decode to the key's leaf name.
func decodeValue(v *pb.Value) (interface{}, error) {
	switch v := v.ValueType.(type) {
	case *pb.Value_NullValue:
		return nil, nil
	case *pb.Value_BooleanValue:
		return v.BooleanValue, nil
	case *pb.Value_IntegerValue:
		return v.IntegerValue, nil
	case *pb.Value_DoubleValue:
		return v.DoubleValue, nil
	case *pb.Value_StringValue:
		return v.StringValue, nil
	case *pb.Value_BlobValue:
		return v.BlobValue, nil
	case *pb.Value_TimestampValue:
		t, err := ptypes.Timestamp(v.TimestampValue)
		if err != nil {
			return nil, err
		}
		return t, nil
	case *pb.Value_KeyValue:
		return keyName(v.KeyValue), nil
	case *pb.Value_EntityValue:
		m := make(map[string]interface{}, len(v.EntityValue.Properties))
		for k, pv := range v.EntityValue.Properties {
			e, err := decodeValue(pv)
			if err != nil {
				return nil, err
			}
			m[k] = e
		}
		return m, nil
	case *pb.Value_ArrayValue:
		s := make([]interface{}, len(v.ArrayValue.Values))
		for i, pv := range v.ArrayValue.Values {
			e, err := decodeValue(pv)
			if err != nil {
				return nil, err
			}
			s[i] = e
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown datastore value type %T", v.ValueType)
}

// decodeEntity decodes a Datastore entity into ddoc. If fps is non-empty,
// only those field paths are set; the Lookup RPC has no projection, so the
// mask is applied here.
func decodeEntity(e *pb.Entity, ddoc driver.Document, keyField string, fps [][]string) error {
	if len(fps) == 0 {
		for name, pv := range e.Properties {
			v, err := decodeValue(pv)
			if err != nil {
				return err
			}
			if err := ddoc.SetField(name, v); err != nil {
				return err
			}
		}
		return ddoc.SetField(keyField, keyName(e.Key))
	}
	for _, fp := range fps {
		if driver.FieldPathEqualsField(fp, keyField) {
			if err := ddoc.Set(fp, keyName(e.Key)); err != nil {
				return err
			}
			continue
		}
		pv, ok := valueAt(e.Properties, fp)
		if !ok {
			// A projected field the entity doesn't have is simply absent.
			continue
		}
		v, err := decodeValue(pv)
		if err != nil {
			return err
		}
		if err := ddoc.Set(fp, v); err != nil {
			return err
		}
	}
	return nil
}

// valueAt walks nested entity values to the given field path.
func valueAt(props map[string]*pb.Value, fp []string) (*pb.Value, bool) {
	for {
		pv, ok := props[fp[0]]
		if !ok {
			return nil, false
		}
		if len(fp) == 1 {
			return pv, true
		}
		sub := pv.GetEntityValue()
		if sub == nil {
			return nil, false
		}
		props = sub.Properties
		fp = fp[1:]
	}
}

// keyFor builds the full native key for a record name: the collection's
// partition, the ancestor path if any, and a leaf element of the
// collection's kind.
func (c *collection) keyFor(name string) *pb.Key {
	var path []*pb.Key_PathElement
	if c.ancestor != nil {
		path = append(path, c.ancestor.Path...)
	}
	path = append(path, &pb.Key_PathElement{
		Kind:   c.kind,
		IdType: &pb.Key_PathElement_Name{Name: name},
	})
	return &pb.Key{PartitionId: c.partitionID, Path: path}
}

// keyName returns the name of the key's leaf path element. Numeric IDs are
// rendered in decimal; this driver itself only creates named keys.
func keyName(k *pb.Key) string {
	if k == nil || len(k.Path) == 0 {
		return ""
	}
	leaf := k.Path[len(k.Path)-1]
	if n, ok := leaf.IdType.(*pb.Key_PathElement_Name); ok {
		return n.Name
	}
	return strconv.FormatInt(leaf.GetId(), 10)
}

// keyString renders the full key identity: partition plus the whole path.
// Two entities are the same record exactly when their keyStrings are equal.
func keyString(k *pb.Key) string {
	var b strings.Builder
	if p := k.GetPartitionId(); p != nil {
		fmt.Fprintf(&b, "%s/%s", p.ProjectId, p.NamespaceId)
	}
	for _, pe := range k.GetPath() {
		b.WriteByte('|')
		b.WriteString(pe.Kind)
		b.WriteByte(':')
		if n, ok := pe.IdType.(*pb.Key_PathElement_Name); ok {
			b.WriteString(n.Name)
		} else {
			b.WriteString(strconv.FormatInt(pe.GetId(), 10))
		}
	}
	return b.String()
}
