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
	"testing"
	"time"

	"entitykit.dev/recordstore/driver"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	"github.com/google/go-cmp/cmp"
	pb "google.golang.org/genproto/googleapis/datastore/v1"
)

func TestEncodeDocValue(t *testing.T) {
	tm := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ts, err := ptypes.TimestampProto(tm)
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		in   interface{}
		want *pb.Value
	}{
		{nil, &pb.Value{ValueType: &pb.Value_NullValue{}}},
		{"s", strVal("s")},
		{42, intVal(42)},
		{1.5, &pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: 1.5}}},
		{true, &pb.Value{ValueType: &pb.Value_BooleanValue{BooleanValue: true}}},
		{tm, &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: ts}}},
		{[]byte("b"), &pb.Value{ValueType: &pb.Value_BlobValue{BlobValue: []byte("b")}}},
		{
			[]interface{}{1, "x"},
			&pb.Value{ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{
				Values: []*pb.Value{intVal(1), strVal("x")},
			}}},
		},
		{
			map[string]interface{}{"a": 1},
			&pb.Value{ValueType: &pb.Value_EntityValue{EntityValue: &pb.Entity{
				Properties: map[string]*pb.Value{"a": intVal(1)},
			}}},
		},
	} {
		got, err := encodeDocValue(test.in)
		if err != nil {
			t.Fatalf("%v (%[1]T): %v", test.in, err)
		}
		if diff := cmp.Diff(got, test.want, cmp.Comparer(proto.Equal)); diff != "" {
			t.Errorf("%v (%[1]T): %s", test.in, diff)
		}
	}

	// Unsupported values are rejected.
	if _, err := encodeDocValue(make(chan int)); err == nil {
		t.Error("got nil, want error")
	}
}

func TestEncodeEntity(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	doc, err := driver.NewDocument(map[string]interface{}{
		"name":   "k",
		"status": "open",
		"nested": map[string]interface{}{"n": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	e, err := encodeEntity(doc, c.keyFor("k"), c.keyField)
	if err != nil {
		t.Fatal(err)
	}
	want := &pb.Entity{
		Key: c.keyFor("k"),
		Properties: map[string]*pb.Value{
			"status": strVal("open"),
			"nested": {ValueType: &pb.Value_EntityValue{EntityValue: &pb.Entity{
				Properties: map[string]*pb.Value{"n": intVal(1)},
			}}},
		},
	}
	if diff := cmp.Diff(e, want, cmp.Comparer(proto.Equal)); diff != "" {
		t.Error(diff)
	}
}

func TestDecodeEntity(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	e := entity(c, "k", map[string]*pb.Value{
		"status": strVal("open"),
		"nested": {ValueType: &pb.Value_EntityValue{EntityValue: &pb.Entity{
			Properties: map[string]*pb.Value{"n": intVal(1)},
		}}},
		"tags": {ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{
			Values: []*pb.Value{strVal("a"), strVal("b")},
		}}},
	})

	t.Run("full", func(t *testing.T) {
		m := map[string]interface{}{}
		doc, err := driver.NewDocument(m)
		if err != nil {
			t.Fatal(err)
		}
		if err := decodeEntity(e, doc, c.keyField, nil); err != nil {
			t.Fatal(err)
		}
		want := map[string]interface{}{
			"name":   "k",
			"status": "open",
			"nested": map[string]interface{}{"n": int64(1)},
			"tags":   []interface{}{"a", "b"},
		}
		if diff := cmp.Diff(m, want); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("masked", func(t *testing.T) {
		m := map[string]interface{}{}
		doc, err := driver.NewDocument(m)
		if err != nil {
			t.Fatal(err)
		}
		fps := [][]string{{"name"}, {"nested", "n"}, {"absent"}}
		if err := decodeEntity(e, doc, c.keyField, fps); err != nil {
			t.Fatal(err)
		}
		// Only the masked paths are set; the absent one contributes nothing.
		want := map[string]interface{}{
			"name":   "k",
			"nested": map[string]interface{}{"n": int64(1)},
		}
		if diff := cmp.Diff(m, want); diff != "" {
			t.Error(diff)
		}
	})
}

func TestKeyFor(t *testing.T) {
	c := testCollection(t, staticClient(nil), nil)
	want := &pb.Key{
		PartitionId: &pb.PartitionId{ProjectId: "proj"},
		Path: []*pb.Key_PathElement{
			{Kind: "Task", IdType: &pb.Key_PathElement_Name{Name: "k"}},
		},
	}
	if got := c.keyFor("k"); !proto.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// With an ancestor, its path elements prefix the leaf.
	anc := &pb.Key{Path: []*pb.Key_PathElement{{Kind: "Project", IdType: &pb.Key_PathElement_Name{Name: "p1"}}}}
	ca := testCollection(t, staticClient(nil), &Options{Ancestor: anc})
	want = &pb.Key{
		PartitionId: &pb.PartitionId{ProjectId: "proj"},
		Path: []*pb.Key_PathElement{
			{Kind: "Project", IdType: &pb.Key_PathElement_Name{Name: "p1"}},
			{Kind: "Task", IdType: &pb.Key_PathElement_Name{Name: "k"}},
		},
	}
	if got := ca.keyFor("k"); !proto.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestKeyName(t *testing.T) {
	for _, test := range []struct {
		in   *pb.Key
		want string
	}{
		{nil, ""},
		{&pb.Key{}, ""},
		{&pb.Key{Path: []*pb.Key_PathElement{{Kind: "T", IdType: &pb.Key_PathElement_Name{Name: "n"}}}}, "n"},
		{&pb.Key{Path: []*pb.Key_PathElement{{Kind: "T", IdType: &pb.Key_PathElement_Id{Id: 7}}}}, "7"},
		{
			&pb.Key{Path: []*pb.Key_PathElement{
				{Kind: "P", IdType: &pb.Key_PathElement_Name{Name: "parent"}},
				{Kind: "T", IdType: &pb.Key_PathElement_Name{Name: "leaf"}},
			}},
			"leaf",
		},
	} {
		if got := keyName(test.in); got != test.want {
			t.Errorf("%v: got %q, want %q", test.in, got, test.want)
		}
	}
}

func TestKeyString(t *testing.T) {
	// keyString must distinguish keys that differ in any component: partition,
	// ancestry or leaf.
	base := func() *pb.Key {
		return &pb.Key{
			PartitionId: &pb.PartitionId{ProjectId: "proj", NamespaceId: "ns"},
			Path: []*pb.Key_PathElement{
				{Kind: "P", IdType: &pb.Key_PathElement_Name{Name: "parent"}},
				{Kind: "T", IdType: &pb.Key_PathElement_Name{Name: "leaf"}},
			},
		}
	}
	k := base()
	same := base()
	if keyString(k) != keyString(same) {
		t.Error("equal keys have different strings")
	}
	for _, alter := range []func(*pb.Key){
		func(k *pb.Key) { k.PartitionId.NamespaceId = "other" },
		func(k *pb.Key) { k.Path[0].IdType = &pb.Key_PathElement_Name{Name: "other"} },
		func(k *pb.Key) { k.Path[1].IdType = &pb.Key_PathElement_Name{Name: "other"} },
		func(k *pb.Key) { k.Path[1].IdType = &pb.Key_PathElement_Id{Id: 3} },
		func(k *pb.Key) { k.Path = k.Path[1:] },
	} {
		other := base()
		alter(other)
		if keyString(other) == keyString(k) {
			t.Errorf("distinct keys share the string %q", keyString(k))
		}
	}
}
