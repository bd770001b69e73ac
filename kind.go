package colcache

import (
	"fmt"
	"reflect"
	"time"
)

// Value is the closed set of types a column can hold.
type Value interface {
	~bool |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 |
		~string | ~[]byte | ~[]RecordID |
		time.Time
}

type ValueKind int

const (
	KindUnknown ValueKind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
	KindIDs
	KindTime
)

var (
	timeType     = reflect.TypeFor[time.Time]()
	recordIDType = reflect.TypeFor[RecordID]()
)

func (k ValueKind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindIDs:
		return "ids"
	case KindTime:
		return "time"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

func kindOf[T Value]() ValueKind {
	return kindOfType(reflect.TypeFor[T]())
}

func kindOfType(t reflect.Type) ValueKind {
	if t == timeType {
		return KindTime
	}
	switch t.Kind() {
	case reflect.Bool:
		return KindBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return KindInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindUint
	case reflect.Float32, reflect.Float64:
		return KindFloat
	case reflect.String:
		return KindString
	case reflect.Slice:
		if t.Elem() == recordIDType {
			return KindIDs
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return KindBytes
		}
	}
	return KindUnknown
}
