package progress

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	h := NewHub()
	if h.ListenerCount() != 0 {
		t.Errorf("Initial ListenerCount = %d, want 0", h.ListenerCount())
	}

	l1 := h.Subscribe("")
	l2 := h.Subscribe("req-1")
	if h.ListenerCount() != 2 {
		t.Errorf("After 2 subscribes: ListenerCount = %d, want 2", h.ListenerCount())
	}

	h.Unsubscribe(l1)
	h.Unsubscribe(l2)
	if h.ListenerCount() != 0 {
		t.Errorf("After all unsubscribed: ListenerCount = %d, want 0", h.ListenerCount())
	}
}

func TestPublishFiltersByRequest(t *testing.T) {
	h := NewHub()
	all := h.Subscribe("")
	mine := h.Subscribe("req-1")
	other := h.Subscribe("req-2")

	h.Publish(Event{RequestID: "req-1", Stage: StageGenerating})

	select {
	case e := <-all.C:
		assert.Equal(t, StageGenerating, e.Stage)
		assert.False(t, e.Time.IsZero(), "publish stamps the time")
	default:
		t.Fatal("unfiltered listener got nothing")
	}
	select {
	case e := <-mine.C:
		assert.Equal(t, "req-1", e.RequestID)
	default:
		t.Fatal("matching listener got nothing")
	}
	select {
	case e := <-other.C:
		t.Fatalf("other listener got %+v", e)
	default:
	}
}

func TestPublishDropsForSlowListener(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe("")

	done := make(chan struct{})
	go func() {
		for i := 0; i < listenerBuffer*3; i++ {
			h.Publish(Event{RequestID: "r", Stage: StageGenerating})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow listener")
	}
	assert.Len(t, slow.C, listenerBuffer)
}

func TestWebsocketStreamsEvents(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(NewHandler(h, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?request_id=req-9"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, StageWaiting, first.Stage)

	require.Eventually(t, func() bool { return h.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(Event{RequestID: "req-other", Stage: StageComplete})
	h.Publish(Event{RequestID: "req-9", Stage: StageComplete, ResultID: "res-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "req-9", got.RequestID)
	assert.Equal(t, "res-1", got.ResultID)

	conn.Close()
	require.Eventually(t, func() bool { return h.ListenerCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
