package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/ranking"
	"github.com/intermernet/finishline/internal/realtime"
)

// UnknownEventError reports a broadcast this viewer cannot interpret. Such
// broadcasts are logged and dropped.
type UnknownEventError struct {
	Kind   string
	Reason string
}

func (e *UnknownEventError) Error() string {
	if e.Kind == "" {
		return "unknown event shape: " + e.Reason
	}
	return fmt.Sprintf("unknown event shape %q: %s", e.Kind, e.Reason)
}

// Message is a decoded broadcast. Exactly one of Event, Reload and Clock is
// set.
type Message struct {
	Kind   string
	Event  ranking.Event
	Reload bool
	Clock  *raceclock.State
}

// Decode interprets one broadcast payload.
func Decode(payload []byte) (Message, error) {
	if !gjson.ValidBytes(payload) {
		return Message{}, &UnknownEventError{Reason: "payload is not valid JSON"}
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return Message{}, &UnknownEventError{Reason: "payload is not an object"}
	}

	if action := root.Get("action"); action.Exists() {
		if action.String() == realtime.ActionReload {
			return Message{Kind: realtime.ActionReload, Reload: true}, nil
		}
		return Message{}, &UnknownEventError{Kind: action.String(), Reason: "unsupported action"}
	}

	kind := root.Get("type").String()
	data := root.Get("data")
	switch kind {
	case realtime.TypeAdd, realtime.TypeUpdate:
		if !data.IsObject() {
			return Message{}, &UnknownEventError{Kind: kind, Reason: "data must be a finisher"}
		}
		var rec finisher.Record
		if err := json.Unmarshal([]byte(data.Raw), &rec); err != nil {
			return Message{}, &UnknownEventError{Kind: kind, Reason: err.Error()}
		}
		if rec.ID == "" && rec.BibNumber == "" {
			return Message{}, &UnknownEventError{Kind: kind, Reason: "finisher has neither id nor bibNumber"}
		}
		return Message{Kind: kind, Event: ranking.Upsert{Record: rec}}, nil

	case realtime.TypeDelete:
		id := root.Get("id").String()
		if id == "" {
			id = data.Get("id").String()
		}
		if id == "" {
			return Message{}, &UnknownEventError{Kind: kind, Reason: "missing id"}
		}
		return Message{Kind: kind, Event: ranking.Delete{ID: id}}, nil

	case realtime.TypeReorder:
		if !data.IsArray() {
			return Message{}, &UnknownEventError{Kind: kind, Reason: "data must be a list of finishers"}
		}
		var records []finisher.Record
		if err := json.Unmarshal([]byte(data.Raw), &records); err != nil {
			return Message{}, &UnknownEventError{Kind: kind, Reason: err.Error()}
		}
		return Message{Kind: kind, Event: ranking.ReplaceAll{Records: records}}, nil

	case realtime.TypeClockUpdate:
		var st raceclock.State
		if err := json.Unmarshal([]byte(data.Raw), &st); err != nil || !data.IsObject() {
			return Message{}, &UnknownEventError{Kind: kind, Reason: "data must be a clock state"}
		}
		return Message{Kind: kind, Clock: &st}, nil

	case "":
		return Message{}, &UnknownEventError{Reason: "missing type"}
	default:
		return Message{}, &UnknownEventError{Kind: kind, Reason: "unsupported type"}
	}
}
