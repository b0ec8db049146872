package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MixStudio/logger"
	"MixStudio/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHub(t *testing.T, userID int64) (*JobHub, *websocket.Conn) {
	t.Helper()
	// 连接相关日志在测试结束后仍可能异步输出，不能绑定 t
	logger.Use(zap.NewNop())

	hub := NewJobHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn, userID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount(userID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestJobHub_PublishReachesOwner(t *testing.T) {
	hub, conn := startHub(t, 7)

	hub.Publish(8, model.JobEvent{JobID: "other-user"})
	hub.Publish(7, model.JobEvent{JobID: "job-1", TrackID: 3, State: model.JobStateDispatching, TrackStatus: model.TrackStatusProcessing})

	msg := readMessage(t, conn)
	if msg.Type != MsgTypeJob {
		t.Fatalf("expected job message, got %s", msg.Type)
	}
	var ev model.JobEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.JobID != "job-1" || ev.TrackStatus != model.TrackStatusProcessing {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestJobHub_PingPong(t *testing.T) {
	_, conn := startHub(t, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MsgTypePong {
		t.Errorf("expected pong, got %s", msg.Type)
	}
}

func TestJobHub_DisconnectUnregisters(t *testing.T) {
	hub, conn := startHub(t, 5)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount(5) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJobHub_PublishAfterStopDoesNotBlock(t *testing.T) {
	hub := NewJobHub()
	hub.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(1, model.JobEvent{JobID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stopped hub")
	}
}
