package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamHandlerWritesEvents(t *testing.T) {
	h := NewHub(WithReorderWait(50 * time.Millisecond))
	runHub(t, h)
	srv := httptest.NewServer(NewStreamHandler(h, time.Hour, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?account_id=acct-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				if event != "" {
					return event, data
				}
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	event, _ := readEvent()
	require.Equal(t, "ready", event)

	require.Eventually(t, func() bool { return h.Sessions() == 1 }, time.Second, 5*time.Millisecond)
	m, err := NewMessage("alarm_held", "acct-1", "alarm-1", 1, map[string]string{"status": "held"}, time.Now())
	require.NoError(t, err)
	h.Publish(m)

	event, data := readEvent()
	require.Equal(t, "alarm_held", event)
	var got Message
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	require.Equal(t, "alarm-1", got.SubjectID)
	require.JSONEq(t, `{"status":"held"}`, string(got.Payload))
}

func TestStreamHandlerRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStreamHandler(NewHub(), 0, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/stream", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
