package realtime

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"pilot_created","pilot_id":"00a1","name":"Rossi"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Type != TypePilotCreated || ev.PilotID != "00a1" || ev.Name != "Rossi" || ev.Kind() != TypePilotCreated {
		t.Fatalf("event = %+v", ev)
	}
	if string(ev.Raw) != `{"type":"pilot_created","pilot_id":"00a1","name":"Rossi"}` {
		t.Fatalf("raw = %s", ev.Raw)
	}
}

func TestDecodeLogEntry(t *testing.T) {
	ev, err := Decode([]byte(`{"message":"race started","timestamp":1700000000}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Kind() != TypeLog || ev.Message != "race started" || ev.Timestamp != "1700000000" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDecodeIgnoresNonScalarFields(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"team_updated","name":{"es":"Equipo"},"team_id":12}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Name != "" || ev.TeamID != "12" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, in := range []string{``, `not json`, `[1,2]`, `"str"`, `{"type":`} {
		if _, err := Decode([]byte(in)); err == nil {
			t.Fatalf("Decode(%q) should fail", in)
		}
	}
	if _, err := Decode([]byte(`null`)); !errors.Is(err, ErrNotObject) {
		t.Fatalf("Decode(null) = %v", err)
	}
}

func TestKindEmpty(t *testing.T) {
	if k := (Event{}).Kind(); k != "" {
		t.Fatalf("Kind() = %q", k)
	}
}

func TestSchema(t *testing.T) {
	s := Schema()
	if s.Type != "object" {
		t.Fatalf("schema type = %q", s.Type)
	}
	var names []string
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		names = append(names, el.Key)
	}
	want := []string{"type", "message", "timestamp", "pilot_id", "team_id", "name"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("properties = %v, want %v", names, want)
	}
	if _, err := json.Marshal(s); err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
}

func TestTargets(t *testing.T) {
	cases := map[string][]Target{
		TypePilotCreated: {TargetPilots},
		TypeTeamCreated:  {TargetTeams},
		TypeTeamUpdated:  {TargetTeams, TargetPilots},
		TypeHeartbeat:    nil,
		"":               nil,
	}
	for typ, want := range cases {
		if got := Targets(Event{Type: typ}); !reflect.DeepEqual(got, want) {
			t.Fatalf("Targets(%q) = %v, want %v", typ, got, want)
		}
	}
}
