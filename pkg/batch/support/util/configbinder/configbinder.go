// Package configbinder binds loosely typed property maps onto typed structs.
// Job definitions and execution contexts carry map-shaped values; this package turns them
// into the structs that components and accumulators declare.
package configbinder

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

func newDecoder(target interface{}) (*mapstructure.Decoder, error) {
	return mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
}

// BindProperties binds a map of properties to a target struct using mapstructure.
// It uses the "yaml" tag for binding and allows weakly typed input (e.g., string to int conversion).
//
// Parameters:
//
//	properties: The map of properties to bind.
//	target: A pointer to the struct receiving the values.
//
// Returns:
//
//	An error if binding fails.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	if len(properties) == 0 {
		return nil
	}
	decoder, err := newDecoder(target)
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		return fmt.Errorf("failed to bind properties to %s: %w", targetName(target), err)
	}
	return nil
}

// BindStringProperties binds JSL style string properties.
func BindStringProperties(properties map[string]string, target interface{}) error {
	intermediate := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		intermediate[k] = v
	}
	return BindProperties(intermediate, target)
}

// Decode converts an arbitrary value (typically a map produced by a JSON round trip of an
// execution context) into target.
func Decode(input interface{}, target interface{}) error {
	decoder, err := newDecoder(target)
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode value into %s: %w", targetName(target), err)
	}
	return nil
}

func targetName(target interface{}) string {
	t := reflect.TypeOf(target)
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}
