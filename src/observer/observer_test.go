package observer

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meander-labs/voicetrace/src/telemetry"
)

type countingSink struct {
	kinds []telemetry.EventKind
}

func (s *countingSink) Emit(ev telemetry.Event) {
	s.kinds = append(s.kinds, ev.EventKind())
}

func TestMultiFansOutInOrder(t *testing.T) {
	t.Parallel()

	a := &countingSink{}
	b := &countingSink{}
	m := Multi{a, b}

	m.Emit(telemetry.NewTurnStart("stt", 1))
	m.Emit(telemetry.NewStageProcessing("stt", 1))

	for _, s := range []*countingSink{a, b} {
		if len(s.kinds) != 2 {
			t.Fatalf("sink saw %d events, want 2", len(s.kinds))
		}
		if s.kinds[0] != telemetry.KindTurnStart || s.kinds[1] != telemetry.KindStageProcessing {
			t.Errorf("kinds = %v", s.kinds)
		}
	}
}

func TestWebSocketSinkBroadcastsEvents(t *testing.T) {
	t.Parallel()

	sink := NewWebSocketSink()
	defer sink.Close()
	srv := httptest.NewServer(sink)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The client registers asynchronously after the upgrade; retry until the
	// broadcast reaches it.
	go func() {
		for i := 0; i < 100; i++ {
			sink.Emit(telemetry.NewStageRegistered("stt", "STT", "#4fc3f7"))
			time.Sleep(10 * time.Millisecond)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev struct {
		Type      string `json:"type"`
		Stage     string `json:"stage"`
		ShortName string `json:"shortName"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != string(telemetry.KindStageRegistered) || ev.Stage != "stt" || ev.ShortName != "STT" {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocketSinkEmitWithoutClientsIsNoOp(t *testing.T) {
	t.Parallel()

	sink := NewWebSocketSink()
	defer sink.Close()
	sink.Emit(telemetry.NewTurnStart("stt", 1))
}
