package anvil

import (
	"fmt"
	"reflect"
)

// Overridable holds a computed-or-overridden field value. The assigned value
// comes from parsing or preparation; the override is whatever a test case
// forces onto the wire. Resolve always prefers the override.
type Overridable[T any] struct {
	assigned    T
	hasAssigned bool
	override    T
	hasOverride bool
}

// Assign records the natural value of the field.
func (o *Overridable[T]) Assign(v T) {
	o.assigned = v
	o.hasAssigned = true
}

// Override forces v regardless of what preparation computes. Nothing that
// depends on this field is recomputed.
func (o *Overridable[T]) Override(v T) {
	o.override = v
	o.hasOverride = true
}

func (o *Overridable[T]) ClearOverride() {
	var zero T
	o.override = zero
	o.hasOverride = false
}

// Prepare assigns compute() unless an override is present, in which case
// compute is never called.
func (o *Overridable[T]) Prepare(compute func() T) {
	if o.hasOverride {
		return
	}
	o.Assign(compute())
}

// Resolve returns the value that goes on the wire.
func (o *Overridable[T]) Resolve() T {
	if o.hasOverride {
		return o.override
	}
	return o.assigned
}

// IsSet reports whether the field has any value at all. Unset optional
// fields are not serialized.
func (o *Overridable[T]) IsSet() bool {
	return o.hasAssigned || o.hasOverride
}

func (o *Overridable[T]) Assigned() (T, bool) {
	return o.assigned, o.hasAssigned
}

func (o *Overridable[T]) Overridden() bool {
	return o.hasOverride
}

func (o Overridable[T]) String() string {
	if !o.IsSet() {
		return "<unset>"
	}
	if o.hasOverride {
		return fmt.Sprintf("%v (override)", o.override)
	}
	return fmt.Sprintf("%v", o.assigned)
}

// Shorthand used by message structs.
type (
	Uint8Field  = Overridable[uint8]
	Uint16Field = Overridable[uint16]
	Uint32Field = Overridable[uint32]
	Uint64Field = Overridable[uint64]
	BytesField  = Overridable[[]byte]
	BoolField   = Overridable[bool]
)

// Set returns a field with v assigned. Handy for literals in tests.
func Set[T any](v T) Overridable[T] {
	var o Overridable[T]
	o.Assign(v)
	return o
}

// Forced returns a field carrying only an override.
func Forced[T any](v T) Overridable[T] {
	var o Overridable[T]
	o.Override(v)
	return o
}

type overrideClearer interface {
	ClearOverride()
}

// clearOverrides walks v and clears every Overridable it reaches through
// exported fields, slices and pointers.
func clearOverrides(v interface{}) {
	clearValue(reflect.ValueOf(v))
}

func clearValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			clearValue(v.Elem())
		}
	case reflect.Struct:
		if v.CanAddr() {
			if c, ok := v.Addr().Interface().(overrideClearer); ok {
				c.ClearOverride()
				return
			}
		}
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).IsExported() {
				clearValue(v.Field(i))
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			clearValue(v.Index(i))
		}
	}
}
