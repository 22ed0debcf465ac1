package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"medassist-go/internal/apperr"
	"medassist-go/internal/service"
)

type recordingChat struct {
	mu            sync.Mutex
	conversations []string
	frames        []string
}

func (r *recordingChat) Reply(_ context.Context, conversationID, _ string, frame []byte) (*service.OrchestrateResponse, error) {
	r.mu.Lock()
	r.conversations = append(r.conversations, conversationID)
	r.frames = append(r.frames, string(frame))
	r.mu.Unlock()
	if strings.TrimSpace(string(frame)) == "" {
		return nil, apperr.Wrap(apperr.ErrEmptyInput, apperr.KindValidation, apperr.CodeEmptyInput, "query must not be empty")
	}
	return &service.OrchestrateResponse{Response: "echo: " + string(frame), AgentCalls: []string{"parser"}}, nil
}

func TestChatWebSocket(t *testing.T) {
	chat := &recordingChat{}
	r := gin.New()
	r.GET("/chat/ws", NewChatHandler(chat).Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws?conversation_id=c42"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	readFrame := func() map[string]interface{} {
		t.Helper()
		var m map[string]interface{}
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	resp := readFrame()
	if resp["type"] != "response" || resp["response"] != "echo: hello" || resp["conversation_id"] != "c42" {
		t.Fatalf("response frame = %v", resp)
	}
	if done := readFrame(); done["type"] != "completion" || done["status"] != "finished" {
		t.Fatalf("completion frame = %v", done)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(" ")); err != nil {
		t.Fatal(err)
	}
	if errFrame := readFrame(); errFrame["type"] != "error" || errFrame["code"] != string(apperr.CodeEmptyInput) {
		t.Fatalf("error frame = %v", errFrame)
	}
	if done := readFrame(); done["type"] != "completion" {
		t.Fatalf("completion frame = %v", done)
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	if len(chat.conversations) != 2 || chat.conversations[0] != "c42" || chat.conversations[1] != "c42" {
		t.Errorf("conversations = %v", chat.conversations)
	}
}
