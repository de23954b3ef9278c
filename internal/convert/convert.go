// Package convert builds typed D-Bus variants for notification hints.
package convert

import "github.com/godbus/dbus/v5"

// hint lists the value types used by the standard notification hints.
type hint interface {
	~bool | ~byte | ~int32 | ~uint32 | ~string
}

func variant[T hint](v T) dbus.Variant {
	return dbus.MakeVariant(v)
}

func FromBool(input bool) dbus.Variant { return variant(input) }

// FromByte is used for the "urgency" hint, which is typed y.
func FromByte(input byte) dbus.Variant { return variant(input) }

func FromString(input string) dbus.Variant { return variant(input) }
