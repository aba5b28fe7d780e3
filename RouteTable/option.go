package RouteTable

// Option is a presence flag followed by storage for one T. When IsSome is
// false the stored value carries no meaning and must not be read; a zero T
// is a legitimate present value (0.0.0.0 is a valid address).
type Option[T any] struct {
	IsSome bool
	value  T
}

func Some[T any](v T) Option[T] {
	return Option[T]{IsSome: true, value: v}
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func OptionFrom[T any](v T, ok bool) Option[T] {
	if !ok {
		return None[T]()
	}
	return Some(v)
}

func (o Option[T]) Get() (T, bool) {
	if !o.IsSome {
		var zero T
		return zero, false
	}
	return o.value, true
}

// Unwrap returns the stored value and panics when the option is absent.
func (o Option[T]) Unwrap() T {
	if !o.IsSome {
		panic("RouteTable: Unwrap on absent option")
	}
	return o.value
}

func (o Option[T]) OrElse(def T) T {
	if !o.IsSome {
		return def
	}
	return o.value
}
