package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"

	"example.com/bulletin/internal/events"
)

const activityPublishedSchema = `{
  "type": "object",
  "title": "ActivityPublished",
  "properties": {
    "activity_id": {"type": "string"},
    "title": {"type": "string"},
    "event_type": {"type": "string", "enum": ["announcement", "poll", "voting", "form"]},
    "publish_at": {"type": "string", "format": "date-time"},
    "published_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "title", "event_type", "publish_at", "published_at"],
  "additionalProperties": false
}`

// schemas maps an event type to the JSON schema registered for its subject.
var schemas = map[string]string{
	events.ActivityPublishedType: activityPublishedSchema,
}

func schemaFor(eventType string) (string, error) {
	schema, ok := schemas[eventType]
	if !ok {
		return "", fmt.Errorf("no schema registered for event_type=%s", eventType)
	}
	return schema, nil
}

var errNotFramed = errors.New("not a schema registry frame")

// encodeWireFormat prefixes payload with the magic byte and the big-endian
// schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, 0)
	frame = binary.BigEndian.AppendUint32(frame, uint32(schemaID))
	return append(frame, payload...)
}

// DecodeWireFormat splits a framed value into schema id and payload.
func DecodeWireFormat(frame []byte) (int, []byte, error) {
	if len(frame) < 5 || frame[0] != 0 {
		return 0, nil, errNotFramed
	}
	return int(binary.BigEndian.Uint32(frame[1:5])), frame[5:], nil
}
