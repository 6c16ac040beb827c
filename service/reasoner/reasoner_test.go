package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/arbiter/service/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) Reason(ctx context.Context, instructions, prompt string) (string, error) {
	args := m.Called(ctx, instructions, prompt)
	return args.String(0), args.Error(1)
}

func TestMapDecision(t *testing.T) {
	tests := []struct {
		answer  string
		want    string
		wantErr bool
	}{
		{answer: "taker", want: DecisionTaker},
		{answer: "The TAKER delivered.", want: DecisionTaker},
		{answer: "maker", want: DecisionMaker},
		{answer: "Maker, clearly", want: DecisionMaker},
		{answer: "neither the maker nor the taker", want: DecisionTaker},
		{answer: "I cannot decide", wantErr: true},
		{answer: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			got, err := MapDecision(tt.answer)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUndecided)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyword(t *testing.T) {
	ctx := context.Background()

	got, err := Keyword{}.Reason(ctx, "", "The maker never shipped, so the taker should win")
	require.NoError(t, err)
	assert.Equal(t, DecisionTaker, got)

	got, err = Keyword{}.Reason(ctx, "", "taker paid late; refund the maker")
	require.NoError(t, err)
	assert.Equal(t, DecisionMaker, got)

	_, err = Keyword{}.Reason(ctx, "", "Decide winner")
	assert.ErrorIs(t, err, ErrUndecided)
}

func TestFallback(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("primary answers", func(t *testing.T) {
		primary := new(mockReasoner)
		secondary := new(mockReasoner)
		primary.On("Reason", ctx, "i", "p").Return("maker", nil)

		got, err := (&Fallback{Primary: primary, Secondary: secondary, Logger: logger}).Reason(ctx, "i", "p")

		require.NoError(t, err)
		assert.Equal(t, "maker", got)
		secondary.AssertNotCalled(t, "Reason", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("primary fails", func(t *testing.T) {
		primary := new(mockReasoner)
		secondary := new(mockReasoner)
		primary.On("Reason", ctx, "i", "p").Return("", errors.New("timeout"))
		secondary.On("Reason", ctx, "i", "p").Return("taker", nil)

		got, err := (&Fallback{Primary: primary, Secondary: secondary, Logger: logger}).Reason(ctx, "i", "p")

		require.NoError(t, err)
		assert.Equal(t, "taker", got)
		primary.AssertExpectations(t)
		secondary.AssertExpectations(t)
	})
}

func TestOpenAIClient(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Taker \n"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1/", "secret", "test-model", 5*time.Second)
	answer, err := c.Reason(context.Background(), "", "Decide winner")

	require.NoError(t, err)
	assert.Equal(t, "Taker", answer)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, DefaultInstructions, got.Messages[0].Content)
	assert.Equal(t, "Decide winner", got.Messages[1].Content)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "m", 5*time.Second)
	_, err := c.Reason(context.Background(), "", "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.IsType(t, Keyword{}, New(&config.Config{}, logger))
	assert.IsType(t, &Fallback{}, New(&config.Config{ReasonerURL: "http://localhost:1", ReasonerTimeout: time.Second}, logger))
}
