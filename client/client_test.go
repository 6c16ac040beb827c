package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/arbiter/service/escrow"
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func signedTransfer(t *testing.T) *ledger.Transaction {
	t.Helper()
	from := solana.NewWallet().PrivateKey
	tx := ledger.NewTransaction(from.PublicKey(), ledger.TransferInstruction(from.PublicKey(), solana.NewWallet().PublicKey(), 10))
	require.NoError(t, tx.Sign(from))
	return tx
}

func TestClient_Submit_Success(t *testing.T) {
	tx := signedTransfer(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got ledger.Transaction
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, tx.ID(), got.ID())
		assert.Equal(t, tx.Message.Nonce, got.Message.Nonce)

		writeJSON(t, w, http.StatusOK, ledger.Receipt{Signature: got.ID(), Slot: 7, Logs: []string{"ok"}})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, testLogger())
	receipt, err := c.Submit(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), receipt.Slot)
	assert.Equal(t, tx.ID(), receipt.Signature)
}

func TestClient_Submit_ProgramError(t *testing.T) {
	code := uint32(6003)
	ix := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:       "already resolved",
			Code:        &code,
			Name:        "AlreadyResolved",
			Instruction: &ix,
			Logs:        []string{"Program log: AnchorError"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, testLogger())
	_, err := c.Submit(context.Background(), signedTransfer(t))
	require.Error(t, err)

	var txErr *ledger.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 0, txErr.Instruction)

	gotCode, ok := ledger.ErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, code, gotCode)
	assert.True(t, errors.Is(err, ledger.NewProgramError(code, "", "")))
}

func TestClient_Submit_RuntimeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   ErrorResponse
		want   error
	}{
		{
			name:   "conflict",
			status: http.StatusConflict,
			body:   ErrorResponse{Error: "account version conflict", Name: "Conflict"},
			want:   ledger.ErrConflict,
		},
		{
			name:   "duplicate",
			status: http.StatusConflict,
			body:   ErrorResponse{Error: "transaction already processed", Name: "DuplicateTransaction"},
			want:   ledger.ErrDuplicateTransaction,
		},
		{
			name:   "bad signature",
			status: http.StatusUnauthorized,
			body:   ErrorResponse{Error: "signature verification failed", Name: "InvalidSignature"},
			want:   ledger.ErrInvalidSignature,
		},
		{
			name:   "instruction runtime error",
			status: http.StatusUnprocessableEntity,
			body:   ErrorResponse{Error: "insufficient lamports", Name: "InsufficientLamports", Instruction: new(int)},
			want:   ledger.ErrInsufficientLamports,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tt.status, tt.body)
			}))
			defer server.Close()

			c := NewClient(server.URL, nil, testLogger())
			_, err := c.Submit(context.Background(), signedTransfer(t))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_Submit_UnstructuredError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, testLogger())
	_, err := c.Submit(context.Background(), signedTransfer(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_GetAccount(t *testing.T) {
	addr := solana.NewWallet().PublicKey()

	t.Run("found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/accounts/"+addr.String(), r.URL.Path)
			writeJSON(t, w, http.StatusOK, ledger.Account{
				Address:  addr,
				Owner:    solana.SystemProgramID,
				Lamports: 42,
				Version:  3,
			})
		}))
		defer server.Close()

		acct, err := NewClient(server.URL, nil, testLogger()).GetAccount(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), acct.Lamports)
		assert.Equal(t, uint64(3), acct.Version)
	})

	t.Run("not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusNotFound, ErrorResponse{Error: "account not found", Name: "AccountNotFound"})
		}))
		defer server.Close()

		_, err := NewClient(server.URL, nil, testLogger()).GetAccount(context.Background(), addr)
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	})
}

func TestClient_GetEscrow(t *testing.T) {
	addr := solana.NewWallet().PublicKey()
	maker := solana.NewWallet().PublicKey()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/escrows/"+addr.String(), r.URL.Path)
		writeJSON(t, w, http.StatusOK, EscrowView{
			Address:      addr,
			Escrow:       &escrow.Escrow{Maker: maker, Seed: 9, Receive: 500},
			VaultBalance: 1000,
		})
	}))
	defer server.Close()

	view, err := NewClient(server.URL, nil, testLogger()).GetEscrow(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, maker, view.Escrow.Maker)
	assert.Equal(t, uint64(9), view.Escrow.Seed)
	assert.Equal(t, uint64(1000), view.VaultBalance)
}

func TestClient_ListInteractions(t *testing.T) {
	addr := solana.NewWallet().PublicKey()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/interactions", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("pending"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"interactions": []InteractionView{{
				Address:      addr,
				Interaction:  &oracle.Interaction{Prompt: "the taker delivered"},
				ContextLabel: "be fair",
			}},
		})
	}))
	defer server.Close()

	views, err := NewClient(server.URL, nil, testLogger()).ListInteractions(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, addr, views[0].Address)
	assert.Equal(t, "the taker delivered", views[0].Interaction.Prompt)
	assert.Equal(t, "be fair", views[0].ContextLabel)
}

func TestClient_Airdrop(t *testing.T) {
	to := solana.NewWallet().PublicKey()

	t.Run("enabled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req AirdropRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, to, req.Address)
			assert.Equal(t, uint64(5_000), req.Lamports)
			writeJSON(t, w, http.StatusOK, map[string]string{"status": "ok"})
		}))
		defer server.Close()

		err := NewClient(server.URL, nil, testLogger()).Airdrop(context.Background(), to, 5_000)
		assert.NoError(t, err)
	})

	t.Run("disabled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusForbidden, ErrorResponse{Error: "faucet is disabled", Name: "FaucetDisabled"})
		}))
		defer server.Close()

		err := NewClient(server.URL, nil, testLogger()).Airdrop(context.Background(), to, 5_000)
		assert.ErrorIs(t, err, ledger.ErrFaucetDisabled)
	})
}

func TestClient_AwaitInteractionProcessed(t *testing.T) {
	addr := solana.NewWallet().PublicKey()
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		ix := &oracle.Interaction{Prompt: "who wins"}
		if n >= 3 {
			ix.IsProcessed = true
			ix.Result = "taker"
		}
		writeJSON(t, w, http.StatusOK, InteractionView{Address: addr, Interaction: ix})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, testLogger())
	view, err := c.AwaitInteractionProcessed(context.Background(), addr, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "taker", view.Interaction.Result)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_AwaitAccountClosed(t *testing.T) {
	addr := solana.NewWallet().PublicKey()

	t.Run("closes", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 2 {
				writeJSON(t, w, http.StatusOK, ledger.Account{Address: addr, Lamports: 1})
				return
			}
			writeJSON(t, w, http.StatusNotFound, ErrorResponse{Error: "account not found", Name: "AccountNotFound"})
		}))
		defer server.Close()

		err := NewClient(server.URL, nil, testLogger()).AwaitAccountClosed(context.Background(), addr, 5*time.Millisecond)
		assert.NoError(t, err)
	})

	t.Run("times out", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusOK, ledger.Account{Address: addr, Lamports: 1})
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := NewClient(server.URL, nil, testLogger()).AwaitAccountClosed(ctx, addr, 5*time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
