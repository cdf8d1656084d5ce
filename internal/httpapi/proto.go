package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

const protobufContentType = "application/x-protobuf"

// wantsProtobuf returns true if the client asked for a protobuf export.
func wantsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.TrimSpace(mt) {
		case protobufContentType, "application/protobuf":
			return true
		}
	}
	return false
}

// eventsToProto encodes events as a google.protobuf.ListValue of Structs
// carrying the same fields as the JSON export.
func eventsToProto(events []types.AuditEvent) (*structpb.ListValue, error) {
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	list, err := structpb.NewList(items)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	return list, nil
}

// marshalProto encodes msg deterministically so export digests are stable.
func marshalProto(msg proto.Message) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}
