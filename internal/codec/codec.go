// Package codec converts domain values to and from protobuf Struct messages.
//
// The gRPC transport and the file repository share this representation so a
// snapshot read from disk looks exactly like one returned over the wire. The
// domain JSON tags are the single source of field names.
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct encodes any JSON-taggable value as a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}

	var fields map[string]any
	if err = json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%T does not encode to an object: %w", v, err)
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}

	return s, nil
}

// FromStruct decodes a Struct into v.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}

	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}

	if err = json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode into %T: %w", v, err)
	}

	return nil
}

// Marshal renders v as indented protobuf JSON.
func Marshal(v any) ([]byte, error) {
	s, err := ToStruct(v)
	if err != nil {
		return nil, err
	}

	opts := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	return opts.Marshal(s)
}

// Unmarshal parses protobuf JSON produced by Marshal into v.
func Unmarshal(data []byte, v any) error {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}

	return FromStruct(&s, v)
}

// String returns a string field or "".
func String(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}

	return s.GetFields()[key].GetStringValue()
}

// Int returns a numeric field truncated to int, or def when absent.
func Int(s *structpb.Struct, key string, def int) int {
	if s == nil {
		return def
	}

	v, ok := s.GetFields()[key]
	if !ok {
		return def
	}

	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return def
	}

	return int(v.GetNumberValue())
}
