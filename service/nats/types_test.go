package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReceipt() *ledger.Receipt {
	return &ledger.Receipt{
		Signature: solana.Signature{1, 2, 3},
		Slot:      42,
		Time:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Events: []ledger.Event{
			{ID: "a", Type: "escrow.disputed", Program: solana.SystemProgramID},
			{ID: "b", Type: "oracle.interaction_requested", Program: solana.SystemProgramID, Attributes: map[string]string{"prompt": "Decide winner"}},
		},
	}
}

func TestFromReceipt(t *testing.T) {
	r := testReceipt()

	events := FromReceipt(r)

	require.Len(t, events, 2)
	assert.Equal(t, "events.escrow.disputed", events[0].Subject())
	assert.Equal(t, r.Signature.String(), events[1].Signature)
	assert.Equal(t, uint64(42), events[1].Slot)
	assert.Equal(t, "Decide winner", events[1].Attributes["prompt"])
	assert.Equal(t, r.Time, events[0].Timestamp)
}

func TestFromReceipt_Failed(t *testing.T) {
	r := testReceipt()
	r.Err = "custom program error"

	assert.Empty(t, FromReceipt(r))
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	require.NoError(t, m.PublishReceipt(ctx, testReceipt()))
	assert.Equal(t, 2, m.GetPublishedEventCount())
	assert.Len(t, m.GetPublishedEventsOfType("escrow.disputed"), 1)

	m.SetPublishError(errors.New("nats down"))
	assert.Error(t, m.PublishEvent(ctx, &LedgerEvent{Type: "x"}))

	m.Reset()
	assert.Equal(t, 0, m.GetPublishedEventCount())
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}

func TestFilterSubjects(t *testing.T) {
	tests := []struct {
		eventType string
		want      []string
		wantErr   bool
	}{
		{eventType: "", want: []string{"events.>"}},
		{eventType: "escrow", want: []string{"events.escrow", "events.escrow.>"}},
		{eventType: "escrow.resolved", want: []string{"events.escrow.resolved", "events.escrow.resolved.>"}},
		{eventType: "escrow.*", wantErr: true},
		{eventType: "events.>", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			got, err := FilterSubjects(tt.eventType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
