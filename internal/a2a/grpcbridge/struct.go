package grpcbridge

import (
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/agentbridge/control-plane/internal/apierr"
)

// MapToStruct converts a JSON-shaped map (as used for task and message
// metadata throughout internal/a2a/types) into a protobuf Struct, for the
// gRPC mirror of metadata fields (spec.md §6.2). Non-finite floats (NaN,
// +Inf, -Inf) are rejected since protobuf's NumberValue cannot represent
// them.
func MapToStruct(m map[string]any) (*structpb.Struct, error) {
	if m == nil {
		return nil, nil
	}
	fields := make(map[string]*structpb.Value, len(m))
	for k, v := range m {
		val, err := valueToProto(v)
		if err != nil {
			return nil, apierr.Wrap(apierr.InvalidParams, "metadata field "+k, err)
		}
		fields[k] = val
	}
	return &structpb.Struct{Fields: fields}, nil
}

// StructToMap converts a protobuf Struct back into a JSON-shaped map.
func StructToMap(s *structpb.Struct) map[string]any {
	if s == nil {
		return nil
	}
	m := make(map[string]any, len(s.GetFields()))
	for k, v := range s.GetFields() {
		m[k] = protoToValue(v)
	}
	return m
}

func valueToProto(v any) (*structpb.Value, error) {
	switch x := v.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case bool:
		return structpb.NewBoolValue(x), nil
	case string:
		return structpb.NewStringValue(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, apierr.Newf(apierr.InvalidParams, "non-finite number %v is not representable in a gRPC struct", x)
		}
		return structpb.NewNumberValue(x), nil
	case float32:
		return valueToProto(float64(x))
	case int:
		return structpb.NewNumberValue(float64(x)), nil
	case int64:
		return structpb.NewNumberValue(float64(x)), nil
	case []any:
		list := make([]*structpb.Value, len(x))
		for i, item := range x {
			val, err := valueToProto(item)
			if err != nil {
				return nil, err
			}
			list[i] = val
		}
		return structpb.NewListValue(&structpb.ListValue{Values: list}), nil
	case map[string]any:
		s, err := MapToStruct(x)
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	default:
		return nil, apierr.Newf(apierr.InvalidParams, "unsupported metadata value type %T", v)
	}
}

func protoToValue(v *structpb.Value) any {
	switch x := v.GetKind().(type) {
	case *structpb.Value_NullValue, nil:
		return nil
	case *structpb.Value_BoolValue:
		return x.BoolValue
	case *structpb.Value_NumberValue:
		return x.NumberValue
	case *structpb.Value_StringValue:
		return x.StringValue
	case *structpb.Value_ListValue:
		list := make([]any, len(x.ListValue.GetValues()))
		for i, item := range x.ListValue.GetValues() {
			list[i] = protoToValue(item)
		}
		return list
	case *structpb.Value_StructValue:
		return StructToMap(x.StructValue)
	default:
		return nil
	}
}
