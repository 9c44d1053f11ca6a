package youtube

import (
	"errors"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Kind is the type tag of a JSON value.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// Member is one key/value pair of a JSON object, kept in document order.
type Member struct {
	Key   string
	Value *Value
}

// Value is a generic JSON value.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Items  []*Value
	Fields []Member
}

// ParseJSON decodes data into a Value tree.
func ParseJSON(data []byte) (*Value, error) {
	iter := jsoniter.ParseBytes(jsoniter.ConfigDefault, data)
	v := readValue(iter)
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return nil, iter.Error
	}
	if v == nil {
		return nil, errors.New("empty json document")
	}
	return v, nil
}

func readValue(iter *jsoniter.Iterator) *Value {
	switch iter.WhatIsNext() {
	case jsoniter.StringValue:
		return &Value{Kind: String, Str: iter.ReadString()}
	case jsoniter.NumberValue:
		return &Value{Kind: Number, Number: iter.ReadFloat64()}
	case jsoniter.BoolValue:
		return &Value{Kind: Bool, Bool: iter.ReadBool()}
	case jsoniter.NilValue:
		iter.ReadNil()
		return &Value{Kind: Null}
	case jsoniter.ArrayValue:
		v := &Value{Kind: Array}
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			if item := readValue(it); item != nil {
				v.Items = append(v.Items, item)
			}
			return it.Error == nil
		})
		return v
	case jsoniter.ObjectValue:
		v := &Value{Kind: Object}
		iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
			if field := readValue(it); field != nil {
				v.Fields = append(v.Fields, Member{Key: key, Value: field})
			}
			return it.Error == nil
		})
		return v
	default:
		iter.ReportError("readValue", "unexpected json token")
		return nil
	}
}

// Get returns the value of an object member, or nil.
func (v *Value) Get(key string) *Value {
	if v == nil || v.Kind != Object {
		return nil
	}
	for _, m := range v.Fields {
		if m.Key == key {
			return m.Value
		}
	}
	return nil
}

// FindString walks the tree depth-first in document order and returns the
// first non-empty string stored under key at any depth.
func (v *Value) FindString(key string) (string, bool) {
	return v.FindStringFunc(key, func(s string) bool { return s != "" })
}

// FindStringFunc is like FindString but returns the first string under key
// for which match reports true. Non-matching occurrences are skipped.
func (v *Value) FindStringFunc(key string, match func(string) bool) (string, bool) {
	if v == nil {
		return "", false
	}
	switch v.Kind {
	case Object:
		for _, m := range v.Fields {
			if m.Key == key && m.Value.Kind == String && match(m.Value.Str) {
				return m.Value.Str, true
			}
			if s, ok := m.Value.FindStringFunc(key, match); ok {
				return s, true
			}
		}
	case Array:
		for _, item := range v.Items {
			if s, ok := item.FindStringFunc(key, match); ok {
				return s, true
			}
		}
	}
	return "", false
}
