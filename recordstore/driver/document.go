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
	"reflect"
	"strings"
	"sync"

	"entitykit.dev/gcerrors"
	"entitykit.dev/internal/gcerr"
)

// A Document is a lightweight wrapper around either a map[string]interface{} or a
// struct pointer. It provides operations to get and set fields and field paths.
type Document struct {
	Origin interface{}            // the argument to NewDocument
	m      map[string]interface{} // nil if it's a *struct
	s      reflect.Value          // the struct reflected
	fields fieldList              // for structs
}

// NewDocument creates a new document from doc, which must be a non-nil
// map[string]interface{} or struct pointer.
func NewDocument(doc interface{}) (Document, error) {
	if doc == nil {
		return Document{}, gcerr.Newf(gcerr.InvalidArgument, nil, "document cannot be nil")
	}
	if m, ok := doc.(map[string]interface{}); ok {
		if m == nil {
			return Document{}, gcerr.Newf(gcerr.InvalidArgument, nil, "document map cannot be nil")
		}
		return Document{Origin: doc, m: m}, nil
	}
	v := reflect.ValueOf(doc)
	t := v.Type()
	if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return Document{}, gcerr.Newf(gcerr.InvalidArgument, nil, "expecting *struct or map[string]interface{}, got %s", t)
	}
	t = t.Elem()
	if v.IsNil() {
		return Document{}, gcerr.Newf(gcerr.InvalidArgument, nil, "document struct pointer cannot be nil")
	}
	fields, err := cachedFields(t)
	if err != nil {
		return Document{}, err
	}
	return Document{Origin: doc, s: v.Elem(), fields: fields}, nil
}

// GetField returns the value of the named document field.
func (d Document) GetField(field string) (interface{}, error) {
	if d.m != nil {
		x, ok := d.m[field]
		if !ok {
			return nil, gcerr.Newf(gcerr.NotFound, nil, "field %q not found in map", field)
		}
		return x, nil
	}
	v, err := d.structField(field)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// getDocument gets the value of the given field path, which must be a document.
// If create is true, it creates intermediate documents as needed.
func (d Document) getDocument(fp []string, create bool) (Document, error) {
	if len(fp) == 0 {
		return d, nil
	}
	x, err := d.GetField(fp[0])
	if err != nil {
		if create && gcerrors.Code(err) == gcerrors.NotFound {
			x = map[string]interface{}{}
			if err := d.SetField(fp[0], x); err != nil {
				return Document{}, err
			}
		} else {
			return Document{}, err
		}
	}
	d2, err := NewDocument(x)
	if err != nil {
		return Document{}, err
	}
	return d2.getDocument(fp[1:], create)
}

// Get returns the value of the given field path in the document.
func (d Document) Get(fp []string) (interface{}, error) {
	d2, err := d.getDocument(fp[:len(fp)-1], false)
	if err != nil {
		return nil, err
	}
	return d2.GetField(fp[len(fp)-1])
}

func (d Document) structField(name string) (reflect.Value, error) {
	// Case-insensitive match, so records written as maps decode into structs
	// regardless of how the store spells the property name.
	f := d.fields.matchFold(name)
	if f == nil {
		return reflect.Value{}, gcerr.Newf(gcerr.NotFound, nil, "field %q not found in struct type %s", name, d.s.Type())
	}
	return d.s.Field(f.index), nil
}

// Set sets the value of the field path in the document.
// This creates sub-maps as necessary, if possible.
func (d Document) Set(fp []string, val interface{}) error {
	d2, err := d.getDocument(fp[:len(fp)-1], true)
	if err != nil {
		return err
	}
	return d2.SetField(fp[len(fp)-1], val)
}

// SetField sets the field to value in the document.
func (d Document) SetField(field string, value interface{}) error {
	if d.m != nil {
		d.m[field] = value
		return nil
	}
	v, err := d.structField(field)
	if err != nil {
		return err
	}
	if !v.CanSet() {
		return gcerr.Newf(gcerr.InvalidArgument, nil, "cannot set field %s in struct of type %s: not addressable",
			field, d.s.Type())
	}
	vv := reflect.ValueOf(value)
	if !vv.Type().AssignableTo(v.Type()) {
		if !vv.Type().ConvertibleTo(v.Type()) {
			return gcerr.Newf(gcerr.InvalidArgument, nil, "cannot assign %s to field %s of type %s",
				vv.Type(), field, v.Type())
		}
		vv = vv.Convert(v.Type())
	}
	v.Set(vv)
	return nil
}

// FieldNames returns names of the top-level fields of d.
func (d Document) FieldNames() []string {
	var names []string
	if d.m != nil {
		for k := range d.m {
			names = append(names, k)
		}
	} else {
		for _, f := range d.fields {
			names = append(names, f.name)
		}
	}
	return names
}

// HasField returns whether or not d has a certain field.
func (d Document) HasField(field string) bool {
	if d.m != nil {
		_, ok := d.m[field]
		return ok
	}
	return d.fields.matchFold(field) != nil
}

// Struct field resolution. Exported fields are document fields; the
// `record` struct tag renames a field, and `record:"-"` skips it.

type structField struct {
	name  string
	index int
}

type fieldList []structField

func (fl fieldList) matchFold(name string) *structField {
	for i := range fl {
		if strings.EqualFold(fl[i].name, name) {
			return &fl[i]
		}
	}
	return nil
}

var fieldCache sync.Map // reflect.Type -> fieldList

func cachedFields(t reflect.Type) (fieldList, error) {
	if fl, ok := fieldCache.Load(t); ok {
		return fl.(fieldList), nil
	}
	var fl fieldList
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("record"); ok {
			if tag == "-" {
				continue
			}
			if comma := strings.IndexByte(tag, ','); comma >= 0 {
				tag = tag[:comma]
			}
			if tag != "" {
				name = tag
			}
		}
		if strings.ContainsRune(name, '.') {
			return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "field name %q in %s contains a '.'", name, t)
		}
		fl = append(fl, structField{name: name, index: i})
	}
	fieldCache.Store(t, fl)
	return fl, nil
}
