package domain

type fieldOp uint8

const (
	fieldUnchanged fieldOp = iota
	fieldSet
	fieldClear
)

// Field is a tagged partial-update value: Unchanged (the zero value), Set(v)
// or Clear. Clear removes the attribute from the stored record, which is not
// the same as writing a zero value.
type Field[T any] struct {
	op    fieldOp
	value T
}

// Set returns a Field that writes v.
func Set[T any](v T) Field[T] {
	return Field[T]{op: fieldSet, value: v}
}

// Clear returns a Field that removes the stored value.
func Clear[T any]() Field[T] {
	return Field[T]{op: fieldClear}
}

func (f Field[T]) IsSet() bool       { return f.op == fieldSet }
func (f Field[T]) IsClear() bool     { return f.op == fieldClear }
func (f Field[T]) IsUnchanged() bool { return f.op == fieldUnchanged }

// Value returns the value carried by a Set field and the zero value otherwise.
func (f Field[T]) Value() T {
	return f.value
}

// Apply returns the result of applying f on top of cur.
func (f Field[T]) Apply(cur T) T {
	switch f.op {
	case fieldSet:
		return f.value
	case fieldClear:
		var zero T
		return zero
	default:
		return cur
	}
}

// Or returns f unless it is Unchanged, in which case other is returned.
func (f Field[T]) Or(other Field[T]) Field[T] {
	if f.op == fieldUnchanged {
		return other
	}
	return f
}
