package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"bizagents/pkg/errors"
)

// EnvelopeVersion is bumped when envelope fields change incompatibly
const EnvelopeVersion = "1.0"

// Envelope is the decoded form of a protobuf event
type Envelope struct {
	ID        string
	Type      string
	Source    string
	Version   string
	Timestamp time.Time
	Payload   map[string]any
}

// EncodeEnvelope wraps payload into a structpb.Struct envelope and returns its
// protobuf binary form. Payload values go through JSON first so uuid, time
// and typed slices become plain structpb values.
func EncodeEnvelope(eventType, source string, ts time.Time, payload any) ([]byte, error) {
	normalized, err := normalize(payload)
	if err != nil {
		return nil, err
	}

	st, err := structpb.NewStruct(map[string]any{
		"id":        uuid.NewString(),
		"type":      eventType,
		"source":    source,
		"version":   EnvelopeVersion,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
		"payload":   normalized,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "build %s envelope", eventType)
	}

	data, err := proto.Marshal(st)
	if err != nil {
		return nil, errors.Wrap(err, "marshal protobuf")
	}
	return data, nil
}

// DecodeEnvelope parses the output of EncodeEnvelope
func DecodeEnvelope(data []byte) (Envelope, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Envelope{}, errors.Wrapf(errors.ErrInvalidInput, "unmarshal protobuf envelope: %v", err)
	}

	m := st.AsMap()
	env := Envelope{
		ID:      stringField(m, "id"),
		Type:    stringField(m, "type"),
		Source:  stringField(m, "source"),
		Version: stringField(m, "version"),
	}
	if env.Type == "" {
		return Envelope{}, errors.Wrap(errors.ErrInvalidInput, "envelope has no type")
	}
	if ts := stringField(m, "timestamp"); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Envelope{}, errors.Wrapf(errors.ErrInvalidInput, "envelope timestamp: %v", err)
		}
		env.Timestamp = parsed
	}
	env.Payload, _ = m["payload"].(map[string]any)
	return env, nil
}

// DecodePayload re-encodes the envelope payload into dest
func (e Envelope) DecodePayload(dest any) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal envelope payload")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "decode %s payload: %v", e.Type, err)
	}
	return nil
}

func normalize(payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "payload must encode to a JSON object")
	}
	return out, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
