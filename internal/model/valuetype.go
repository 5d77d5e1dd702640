package model

import (
	"reflect"
	"time"
)

// ValueType is the kind of value a property holds.
type ValueType int

const (
	// Object accepts any value.
	Object ValueType = iota
	String
	Integer
	Number
	Boolean
	Date
	// EntityValue holds references to entities of a model type.
	EntityValue
)

var valueTypeNames = map[string]ValueType{
	"Object":  Object,
	"String":  String,
	"Integer": Integer,
	"Number":  Number,
	"Boolean": Boolean,
	"Date":    Date,
}

// ParseValueType maps a built-in type name to its ValueType. ok is false
// for names that must refer to an entity type.
func ParseValueType(name string) (ValueType, bool) {
	vt, ok := valueTypeNames[name]
	return vt, ok
}

func (vt ValueType) String() string {
	for name, v := range valueTypeNames {
		if v == vt {
			return name
		}
	}
	if vt == EntityValue {
		return "Entity"
	}
	return "unknown"
}

// accepts reports whether v is an acceptable non-nil scalar for vt.
// Entity checks are done by the property, which knows the target type.
func (vt ValueType) accepts(v any) bool {
	switch vt {
	case Object:
		return true
	case String:
		_, ok := v.(string)
		return ok
	case Boolean:
		_, ok := v.(bool)
		return ok
	case Date:
		_, ok := v.(time.Time)
		return ok
	case Integer:
		switch reflect.TypeOf(v).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		case reflect.Float32, reflect.Float64:
			f := reflect.ValueOf(v).Float()
			return f == float64(int64(f))
		}
		return false
	case Number:
		switch reflect.TypeOf(v).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
		return false
	case EntityValue:
		_, ok := v.(*Entity)
		return ok
	}
	return false
}

// sameValue reports whether a and b are equal for change detection.
// Values that cannot be compared are always treated as different.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}
