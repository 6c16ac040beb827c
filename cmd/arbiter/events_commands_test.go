package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	event string
	data  string
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		"event: connected",
		`data: {"subjects":["events.>"]}`,
		"",
		": keepalive",
		"",
		"event: ledger_event",
		`data: {"type":"escrow.created"}`,
		"",
		"event: ledger_event",
		"data: first",
		"data: second",
		"",
		"data: no event name",
		"",
	}, "\n")

	var got []sseEvent
	err := readSSE(strings.NewReader(stream), func(event, data string) error {
		got = append(got, sseEvent{event, data})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []sseEvent{
		{"connected", `{"subjects":["events.>"]}`},
		{"ledger_event", `{"type":"escrow.created"}`},
		{"ledger_event", "first\nsecond"},
	}, got)
}

func TestReadSSE_HandlerError(t *testing.T) {
	stream := "event: error\ndata: {}\n\nevent: ledger_event\ndata: {}\n\n"
	calls := 0
	err := readSSE(strings.NewReader(stream), func(event, data string) error {
		calls++
		return fmt.Errorf("stop")
	})
	require.EqualError(t, err, "stop")
	assert.Equal(t, 1, calls)
}

func TestStreamSSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events/stream", r.URL.Path)
		assert.Equal(t, "escrow", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {}\n\n")
		fmt.Fprint(w, "event: ledger_event\ndata: {\"type\":\"escrow.created\",\"slot\":1}\n\n")
		fmt.Fprint(w, "event: ledger_event\ndata: {\"type\":\"escrow.resolved\",\"slot\":2}\n\n")
	}))
	defer server.Close()

	filter, err := newJQFilter([]string{`.type == "escrow.resolved"`})
	require.NoError(t, err)

	var out bytes.Buffer
	err = streamSSE(context.Background(), server.URL, "escrow", filter, true, &out)
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"escrow.resolved\",\"slot\":2}\n", out.String())
}

func TestStreamSSE_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
	}))
	defer server.Close()

	filter, err := newJQFilter(nil)
	require.NoError(t, err)

	err = streamSSE(context.Background(), server.URL, "", filter, true, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe")
}

func TestStreamSSE_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	filter, err := newJQFilter(nil)
	require.NoError(t, err)

	err = streamSSE(context.Background(), server.URL, "", filter, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
