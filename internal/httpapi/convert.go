package httpapi

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// The protobuf form of an export is a google.protobuf.Struct whose fields
// mirror the JSON document, so both encodings share one schema.

func exportToStruct(doc types.Export) (*structpb.Struct, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return msg, nil
}

func exportFromStruct(msg *structpb.Struct) (types.Export, error) {
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return types.Export{}, fmt.Errorf("decode export: %w", err)
	}
	var doc types.Export
	if err := json.Unmarshal(raw, &doc); err != nil {
		return types.Export{}, fmt.Errorf("decode export: %w", err)
	}
	return doc, nil
}
