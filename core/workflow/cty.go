package workflow

import (
	"fmt"
	"math/big"

	"github.com/zclconf/go-cty/cty"
)

// ctyToNative converts a cty.Value into plain Go values: string, int64 or
// float64, bool, []any and map[string]any. Null and unknown values become nil.
func ctyToNative(value cty.Value) (any, error) {
	if value.IsNull() || !value.IsKnown() {
		return nil, nil
	}

	valueType := value.Type()
	switch {
	case valueType == cty.String:
		return value.AsString(), nil

	case valueType == cty.Number:
		number := value.AsBigFloat()
		if number.IsInt() {
			if integer, accuracy := number.Int64(); accuracy == big.Exact {
				return integer, nil
			}
		}
		float, _ := number.Float64()
		return float, nil

	case valueType == cty.Bool:
		return value.True(), nil

	case valueType.IsListType() || valueType.IsTupleType() || valueType.IsSetType():
		slice := make([]any, 0, value.LengthInt())
		for iterator := value.ElementIterator(); iterator.Next(); {
			_, element := iterator.Element()
			native, err := ctyToNative(element)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case valueType.IsObjectType() || valueType.IsMapType():
		result := make(map[string]any, value.LengthInt())
		for iterator := value.ElementIterator(); iterator.Next(); {
			key, element := iterator.Element()
			native, err := ctyToNative(element)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			result[key.AsString()] = native
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported value type %s", valueType.FriendlyName())
	}
}

// paramsFromCty decodes a node's params attribute, which must be an object.
func paramsFromCty(value cty.Value) (map[string]any, error) {
	if value.IsNull() {
		return nil, nil
	}
	if !value.Type().IsObjectType() && !value.Type().IsMapType() {
		return nil, fmt.Errorf("params must be an object, got %s", value.Type().FriendlyName())
	}
	native, err := ctyToNative(value)
	if err != nil {
		return nil, err
	}
	params, _ := native.(map[string]any)
	return params, nil
}
