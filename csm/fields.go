package csm

import (
	"encoding/binary"
	"fmt"
)

// --- scalar wire codecs -----------------------------------------------

func encU8(v uint8) []byte  { return []byte{v} }
func decU8(b []byte) (uint8, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("csm: u8 expected 1 byte, got %d", len(b))
	}
	return b[0], nil
}

func encI8(v int8) []byte { return []byte{byte(v)} }
func decI8(b []byte) (int8, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("csm: i8 expected 1 byte, got %d", len(b))
	}
	return int8(b[0]), nil
}

func encU16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
func decU16(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("csm: u16 expected 2 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

func encI16(v int16) []byte { return encU16(uint16(v)) }
func decI16(b []byte) (int16, error) {
	v, err := decU16(b)
	return int16(v), err
}

func encU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
func decU32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("csm: u32 expected 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func encI32(v int32) []byte { return encU32(uint32(v)) }
func decI32(b []byte) (int32, error) {
	v, err := decU32(b)
	return int32(v), err
}

func encU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
func decU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("csm: u64 expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func encI64(v int64) []byte { return encU64(uint64(v)) }
func decI64(b []byte) (int64, error) {
	v, err := decU64(b)
	return int64(v), err
}

func encBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}
func decBool(b []byte) (bool, error) {
	if len(b) != 1 {
		return false, fmt.Errorf("csm: bool expected 1 byte, got %d", len(b))
	}
	return b[0] != 0, nil
}

func encString(v string) []byte {
	return append([]byte(v), 0x00)
}
func decString(b []byte) (string, error) {
	if len(b) == 0 || b[len(b)-1] != 0x00 {
		return "", fmt.Errorf("csm: string missing trailing NUL")
	}
	return string(b[:len(b)-1]), nil
}

func encBytes(v []byte) []byte { return append([]byte{}, v...) }
func decBytes(b []byte) ([]byte, error) {
	return append([]byte{}, b...), nil
}

func encMarker(bool) []byte { return nil }
func decMarker(b []byte) (bool, error) {
	if len(b) != 0 {
		return false, fmt.Errorf("csm: marker expected empty payload, got %d bytes", len(b))
	}
	return true, nil
}

// --- generic schema entry constructors ---------------------------------

func reqScalar[T any](id uint16, name string, ptr *T, enc func(T) []byte, dec func([]byte) (T, error)) Param {
	return Param{
		ID: id, Name: name, Cardinality: Required,
		DecodeOne: func(p []byte) error {
			v, err := dec(p)
			if err != nil {
				return err
			}
			*ptr = v
			return nil
		},
		EncodeAll: func(emit func(uint16, []byte)) { emit(id, enc(*ptr)) },
	}
}

func optScalar[T any](id uint16, name string, ptr **T, enc func(T) []byte, dec func([]byte) (T, error)) Param {
	return Param{
		ID: id, Name: name, Cardinality: Optional,
		DecodeOne: func(p []byte) error {
			v, err := dec(p)
			if err != nil {
				return err
			}
			*ptr = &v
			return nil
		},
		EncodeAll: func(emit func(uint16, []byte)) {
			if *ptr != nil {
				emit(id, enc(**ptr))
			}
		},
	}
}

func listScalar[T any](id uint16, name string, ptr *[]T, enc func(T) []byte, dec func([]byte) (T, error)) Param {
	return Param{
		ID: id, Name: name, Cardinality: List,
		DecodeOne: func(p []byte) error {
			v, err := dec(p)
			if err != nil {
				return err
			}
			*ptr = append(*ptr, v)
			return nil
		},
		EncodeAll: func(emit func(uint16, []byte)) {
			for _, v := range *ptr {
				emit(id, enc(v))
			}
		},
	}
}

// ReqU8 ... ReqU64 etc. are the concrete constructors message schemas use.
func ReqU8(id uint16, name string, ptr *uint8) Param  { return reqScalar(id, name, ptr, encU8, decU8) }
func OptU8(id uint16, name string, ptr **uint8) Param { return optScalar(id, name, ptr, encU8, decU8) }
func ListU8(id uint16, name string, ptr *[]uint8) Param {
	return listScalar(id, name, ptr, encU8, decU8)
}

func ReqI8(id uint16, name string, ptr *int8) Param  { return reqScalar(id, name, ptr, encI8, decI8) }
func OptI8(id uint16, name string, ptr **int8) Param { return optScalar(id, name, ptr, encI8, decI8) }

func ReqU16(id uint16, name string, ptr *uint16) Param {
	return reqScalar(id, name, ptr, encU16, decU16)
}
func OptU16(id uint16, name string, ptr **uint16) Param {
	return optScalar(id, name, ptr, encU16, decU16)
}
func ListU16(id uint16, name string, ptr *[]uint16) Param {
	return listScalar(id, name, ptr, encU16, decU16)
}

func ReqI16(id uint16, name string, ptr *int16) Param {
	return reqScalar(id, name, ptr, encI16, decI16)
}
func OptI16(id uint16, name string, ptr **int16) Param {
	return optScalar(id, name, ptr, encI16, decI16)
}

func ReqU32(id uint16, name string, ptr *uint32) Param {
	return reqScalar(id, name, ptr, encU32, decU32)
}
func OptU32(id uint16, name string, ptr **uint32) Param {
	return optScalar(id, name, ptr, encU32, decU32)
}

func ReqI32(id uint16, name string, ptr *int32) Param {
	return reqScalar(id, name, ptr, encI32, decI32)
}
func OptI32(id uint16, name string, ptr **int32) Param {
	return optScalar(id, name, ptr, encI32, decI32)
}

func ReqU64(id uint16, name string, ptr *uint64) Param {
	return reqScalar(id, name, ptr, encU64, decU64)
}
func OptU64(id uint16, name string, ptr **uint64) Param {
	return optScalar(id, name, ptr, encU64, decU64)
}

func ReqI64(id uint16, name string, ptr *int64) Param {
	return reqScalar(id, name, ptr, encI64, decI64)
}
func OptI64(id uint16, name string, ptr **int64) Param {
	return optScalar(id, name, ptr, encI64, decI64)
}

func ReqBool(id uint16, name string, ptr *bool) Param {
	return reqScalar(id, name, ptr, encBool, decBool)
}
func OptBool(id uint16, name string, ptr **bool) Param {
	return optScalar(id, name, ptr, encBool, decBool)
}

func ReqString(id uint16, name string, ptr *string) Param {
	return reqScalar(id, name, ptr, encString, decString)
}
func OptString(id uint16, name string, ptr **string) Param {
	return optScalar(id, name, ptr, encString, decString)
}

func ReqBytes(id uint16, name string, ptr *[]byte) Param {
	return reqScalar(id, name, ptr, encBytes, decBytes)
}
func OptBytes(id uint16, name string, ptr **[]byte) Param {
	return optScalar(id, name, ptr, encBytes, decBytes)
}

func ListString(id uint16, name string, ptr *[]string) Param {
	return listScalar(id, name, ptr, encString, decString)
}

// ReqMarker/OptMarker model the zero-length presence-flag type. A marker
// field is represented as a plain bool: present on the wire means true.
func ReqMarker(id uint16, name string, ptr *bool) Param {
	return reqScalar(id, name, ptr, encMarker, decMarker)
}
func OptMarker(id uint16, name string, ptr **bool) Param {
	return optScalar(id, name, ptr, encMarker, decMarker)
}

// Enum is implemented by one-byte tagged enum types.
type Enum interface {
	~uint8
}

func encEnum[E Enum](v E) []byte { return []byte{byte(v)} }

func decEnumWith[E Enum](valid func(byte) bool) func([]byte) (E, error) {
	return func(b []byte) (E, error) {
		if len(b) != 1 {
			return 0, fmt.Errorf("csm: enum expected 1 byte, got %d", len(b))
		}
		if valid != nil && !valid(b[0]) {
			return 0, fmt.Errorf("csm: unknown enum value %d", b[0])
		}
		return E(b[0]), nil
	}
}

// ReqEnum binds a required one-byte enum field. valid, if non-nil,
// rejects unrecognized wire values during decode.
func ReqEnum[E Enum](id uint16, name string, ptr *E, valid func(byte) bool) Param {
	return reqScalar(id, name, ptr, encEnum[E], decEnumWith[E](valid))
}

func OptEnum[E Enum](id uint16, name string, ptr **E, valid func(byte) bool) Param {
	return optScalar(id, name, ptr, encEnum[E], decEnumWith[E](valid))
}

// Group is implemented by nested message fragments whose own schema is
// applied recursively inside a parameter's payload.
type Group interface {
	Schema() []Param
}

func ReqGroup[T Group](id uint16, name string, ptr *T, newT func() T) Param {
	return Param{
		ID: id, Name: name, Cardinality: Required,
		DecodeOne: func(p []byte) error {
			v := newT()
			if err := DecodeInto(p, v.Schema()); err != nil {
				return err
			}
			*ptr = v
			return nil
		},
		EncodeAll: func(emit func(uint16, []byte)) {
			emit(id, EncodeSchema((*ptr).Schema()))
		},
	}
}

func OptGroup[T Group](id uint16, name string, ptr *T, newT func() T, isNil func(T) bool) Param {
	return Param{
		ID: id, Name: name, Cardinality: Optional,
		DecodeOne: func(p []byte) error {
			v := newT()
			if err := DecodeInto(p, v.Schema()); err != nil {
				return err
			}
			*ptr = v
			return nil
		},
		EncodeAll: func(emit func(uint16, []byte)) {
			if !isNil(*ptr) {
				emit(id, EncodeSchema((*ptr).Schema()))
			}
		},
	}
}

func ListGroup[T Group](id uint16, name string, ptr *[]T, newT func() T) Param {
	return Param{
		ID: id, Name: name, Cardinality: List,
		DecodeOne: func(p []byte) error {
			v := newT()
			if err := DecodeInto(p, v.Schema()); err != nil {
				return err
			}
			*ptr = append(*ptr, v)
			return nil
		},
		EncodeAll: func(emit func(uint16, []byte)) {
			for _, v := range *ptr {
				emit(id, EncodeSchema(v.Schema()))
			}
		},
	}
}
