// Package emitter forwards newly published results to external sinks such as
// an MQTT broker or the local store.
package emitter

import (
	"encoding/json"
	"fmt"

	"github.com/ayusman/handtrack/internal/slot"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/vmihailenco/msgpack/v5"
)

// Payload encodings.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Message is one published result as seen by sinks.
type Message struct {
	Worker    string         `json:"worker" msgpack:"worker"`
	Seq       uint64         `json:"seq" msgpack:"seq"`             // result slot sequence
	FrameSeq  uint64         `json:"frame_seq" msgpack:"frame_seq"` // capture sequence of the source frame
	Timestamp int64          `json:"timestamp" msgpack:"timestamp"` // publication time, unix ms
	Source    track.Source   `json:"source" msgpack:"source"`
	Stride    int            `json:"stride" msgpack:"stride"`
	Objects   []track.Object `json:"objects" msgpack:"objects"`
}

// NewMessage builds a message from a result snapshot.
func NewMessage(worker string, snap slot.Snapshot[track.Result]) Message {
	objs := snap.Value.Objects
	if objs == nil {
		objs = []track.Object{}
	}
	return Message{
		Worker:    worker,
		Seq:       snap.Seq,
		FrameSeq:  snap.Value.FrameSeq(),
		Timestamp: snap.UpdatedAt.UnixMilli(),
		Source:    snap.Value.Source,
		Stride:    snap.Value.Stride,
		Objects:   objs,
	}
}

// Encode serializes the message as JSON or msgpack.
func (m Message) Encode(encoding string) ([]byte, error) {
	switch encoding {
	case EncodingJSON, "":
		return json.Marshal(m)
	case EncodingMsgpack:
		return msgpack.Marshal(m)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

// Decode is the inverse of Encode.
func Decode(encoding string, data []byte) (Message, error) {
	var m Message
	var err error
	switch encoding {
	case EncodingJSON, "":
		err = json.Unmarshal(data, &m)
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &m)
	default:
		err = fmt.Errorf("unknown encoding %q", encoding)
	}
	return m, err
}
