// Package notify listens for "box changed" events and hands the slot number
// to a Handler. Two sources exist: a Pusher channel over websocket and an
// MQTT topic. Neither reconnects; when the connection drops, Run returns and
// the periodic poll keeps the display current.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"boxdisplay/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler is called once per accepted event. It may block; sources call it
// off their read loop.
type Handler func(ctx context.Context, id model.SlotID)

// Source is a running notification listener.
type Source interface {
	Name() string
	// Run blocks until ctx is done (returns nil) or the connection is lost
	// (returns the error).
	Run(ctx context.Context) error
}

// Source names accepted in config.
const (
	SourceNone   = "none"
	SourcePusher = "pusher"
	SourceMQTT   = "mqtt"
)

// ErrNoBoxNumber is returned for payloads without a usable boxNumber.
var ErrNoBoxNumber = errors.New("notify: payload has no boxNumber")

type boxEvent struct {
	BoxNumber jsoniter.RawMessage `json:"boxNumber"`
}

// ParseBoxNumber extracts the slot from an event payload. Accepted forms:
//
//	{"boxNumber": 3}
//	{"boxNumber": "3"}
//	"{\"boxNumber\":3}"   (Pusher double-encodes data)
//	3
func ParseBoxNumber(payload []byte) (model.SlotID, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return 0, ErrNoBoxNumber
	}

	if payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(payload, &inner); err != nil {
			return 0, fmt.Errorf("notify: decode payload: %w", err)
		}
		return ParseBoxNumber([]byte(inner))
	}

	if payload[0] != '{' {
		return model.ParseSlotID(string(payload))
	}

	var ev boxEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return 0, fmt.Errorf("notify: decode payload: %w", err)
	}
	raw := strings.TrimSpace(string(ev.BoxNumber))
	if raw == "" || raw == "null" {
		return 0, ErrNoBoxNumber
	}
	if raw[0] == '"' {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return 0, fmt.Errorf("notify: boxNumber %s: %w", raw, err)
		}
		raw = s
	}
	return model.ParseSlotID(raw)
}
