package model

import (
	"fmt"
	"strconv"
	"strings"
)

// SlotID identifies one of the four physical boxes.
type SlotID int

// Slots lists every slot in grid reading order: top-left, top-right,
// bottom-left, bottom-right.
var Slots = [...]SlotID{1, 2, 3, 4}

// Valid reports whether id is one of the well-known slots.
func (id SlotID) Valid() bool {
	return id >= Slots[0] && id <= Slots[len(Slots)-1]
}

func (id SlotID) String() string {
	return strconv.Itoa(int(id))
}

// ParseSlotID accepts "3", " 3 " and similar, as sent by the notification
// channel and the web API.
func ParseSlotID(s string) (SlotID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("model: invalid slot id %q: %w", s, err)
	}
	id := SlotID(n)
	if !id.Valid() {
		return 0, fmt.Errorf("model: slot id %d out of range", n)
	}
	return id, nil
}

// Kind is the render state of a Record.
type Kind int

const (
	KindEmpty Kind = iota
	KindOccupied
	KindErrored
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindOccupied:
		return "occupied"
	case KindErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Record is the status of a single slot.
//
// A record may carry fields of several variants (e.g. an upstream payload
// that reports both "empty" and "error"). Kind resolves that by priority:
// error, then empty, then occupied.
type Record struct {
	Error     string `json:"error,omitempty"`
	Empty     bool   `json:"empty"`
	Name      string `json:"name,omitempty"`
	TypeLabel string `json:"type,omitempty"`
	SizeBytes uint64 `json:"size"`
}

// Empty returns a record for a slot with no file.
func Empty() Record {
	return Record{Empty: true}
}

// Occupied returns a record for a slot holding a file.
func Occupied(name, typeLabel string, size uint64) Record {
	return Record{Name: name, TypeLabel: typeLabel, SizeBytes: size}
}

// Errored returns a record for a slot whose status could not be fetched.
// An empty message is replaced so the record still resolves to KindErrored.
func Errored(msg string) Record {
	if msg == "" {
		msg = "unknown error"
	}
	return Record{Error: msg, Empty: true}
}

func (r Record) Kind() Kind {
	switch {
	case r.Error != "":
		return KindErrored
	case r.Empty:
		return KindEmpty
	default:
		return KindOccupied
	}
}

// Snapshot maps slot ids to their records. A slot missing from the map is
// treated as empty.
type Snapshot map[SlotID]Record

// Get returns the record for id, or Empty() when the slot is absent.
func (s Snapshot) Get(id SlotID) Record {
	if r, ok := s[id]; ok {
		return r
	}
	return Empty()
}

// Clone returns an independent copy of s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
