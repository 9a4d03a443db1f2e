package provider

import (
	"fmt"
	"reflect"
)

// Token is an opaque dependency identity. It must be comparable.
type Token = any

// Named lets a custom token choose its own display name.
type Named interface {
	TokenName() string
}

// Stringify returns the display name used for tok in diagnostics.
func Stringify(tok Token) string {
	switch t := tok.(type) {
	case nil:
		return "<nil>"
	case string:
		return t
	case *Class:
		if t == nil {
			return "<nil class>"
		}
		return t.Name
	case *Factory:
		if t == nil {
			return "<nil factory>"
		}
		return t.Name
	case Named:
		return t.TokenName()
	case reflect.Type:
		return t.String()
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprintf("%T(%v)", tok, tok)
}

// Comparable reports whether tok can be used as a token, checking the
// dynamic value so a struct with a slice behind an interface field is
// rejected.
func Comparable(tok Token) bool {
	return tok != nil && reflect.ValueOf(tok).Comparable()
}

// TypeToken returns the reflect.Type of T as a token, for callers that key
// services by interface or struct type.
//
//	repoToken := provider.TypeToken[UserRepository]()
func TypeToken[T any]() Token {
	return reflect.TypeOf((*T)(nil)).Elem()
}
