// Package kvparams implements the Key-Value Parameter Validator used by
// every ConnectionManager's open() entry point: a restriction table
// describing the parameters a caller may pass, checked against a supplied
// key-value map.
//
// Validation is pure — it never mutates the input map, and the only side
// effect is a logged diagnostic line when a required parameter is absent.
package kvparams

import (
	"fmt"
	"reflect"

	"github.com/joeycumines/logiface"

	"github.com/uacore/eventcore/status"
)

// Cardinality constrains whether a value must be scalar or an array.
type Cardinality int

const (
	Scalar Cardinality = iota
	Array
)

// Restriction describes one accepted (or required) parameter.
type Restriction struct {
	Name        string
	Type        reflect.Type // expected element type (scalar) or element type (array)
	Cardinality Cardinality
	Required    bool
}

// Map is the key-value parameter bag passed to ConnectionManager.open.
type Map map[string]any

// TypeOf returns the reflect.Type of a zero value of T, for building
// Restriction tables without importing reflect directly at call sites, e.g.
// Restriction{Name: "port", Type: kvparams.TypeOf[uint16]()}.
func TypeOf[T any]() reflect.Type {
	var zero T
	return reflect.TypeOf(zero)
}

// Validate checks m against restrictions, returning a *status.Error on the
// first violation found, in restriction order. Only a missing required
// parameter is also logged.
//
// prefix identifies the calling component in diagnostics, e.g.
// "tcp.ConnectionManager.open".
func Validate(logger *logiface.Logger[logiface.Event], prefix string, restrictions []Restriction, m Map) error {
	for _, r := range restrictions {
		val, present := m[r.Name]
		if !present {
			if r.Required {
				logRequiredMissing(logger, prefix, r.Name)
				return status.Newf(status.InvalidArgument, "%s: parameter %q required but not defined", prefix, r.Name)
			}
			continue
		}

		if err := validateOne(prefix, r, val); err != nil {
			return err
		}
	}
	return nil
}

func logRequiredMissing(logger *logiface.Logger[logiface.Event], prefix, name string) {
	if logger == nil {
		return
	}
	logger.Warning().Str("parameter", name).Logf("%s | Parameter %s required but not defined", prefix, name)
}

func validateOne(prefix string, r Restriction, val any) error {
	rv := reflect.ValueOf(val)
	isArray := rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array

	switch {
	case r.Cardinality == Scalar && isArray:
		// Array supplied where only a scalar is allowed is a rejection
		// distinct from a plain type mismatch.
		return status.Newf(status.ConnectionRejected, "%s: parameter %q must be scalar, got array", prefix, r.Name)
	case r.Cardinality == Array && !isArray:
		return status.Newf(status.ConnectionRejected, "%s: parameter %q must be array, got scalar", prefix, r.Name)
	}

	if r.Type == nil {
		return nil
	}

	elemType := rv.Type()
	if isArray {
		elemType = rv.Type().Elem()
	}
	if elemType != r.Type {
		return status.Newf(status.InvalidArgument, "%s: parameter %q expected type %s, got %s", prefix, r.Name, r.Type, elemType)
	}
	return nil
}

// String returns a debug-friendly rendering of m, sorted for determinism.
func (m Map) String() string {
	return fmt.Sprintf("%v", map[string]any(m))
}
