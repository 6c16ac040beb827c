// Package client is the Go client of the ledger API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/gagliardetto/solana-go"
)

// Client is the HTTP client for the ledger service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Submit sends a signed transaction. Program and runtime failures come back as
// the same errors the ledger returned, so errors.Is works against the
// program's sentinels.
func (c *Client) Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error) {
	var receipt ledger.Receipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", tx, &receipt); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction committed", "signature", receipt.Signature.String(), "slot", receipt.Slot)
	return &receipt, nil
}

// SignAndSubmit builds a transaction paid by feePayer, signs it, and submits it.
func (c *Client) SignAndSubmit(ctx context.Context, feePayer solana.PrivateKey, signers []solana.PrivateKey, ixs ...ledger.Instruction) (*ledger.Receipt, error) {
	tx := ledger.NewTransaction(feePayer.PublicKey(), ixs...)
	if err := tx.Sign(append([]solana.PrivateKey{feePayer}, signers...)...); err != nil {
		return nil, err
	}
	return c.Submit(ctx, tx)
}

// GetReceipt retrieves the receipt of a committed transaction.
func (c *Client) GetReceipt(ctx context.Context, sig solana.Signature) (*ledger.Receipt, error) {
	var receipt ledger.Receipt
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(sig.String()), nil, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// GetAccount retrieves an account. It returns ledger.ErrAccountNotFound when
// the account does not exist or was closed.
func (c *Client) GetAccount(ctx context.Context, addr solana.PublicKey) (*ledger.Account, error) {
	var acct ledger.Account
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+addr.String(), nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetEscrow retrieves a decoded escrow and its vault balance.
func (c *Client) GetEscrow(ctx context.Context, addr solana.PublicKey) (*EscrowView, error) {
	var view EscrowView
	if err := c.do(ctx, http.MethodGet, "/api/v1/escrows/"+addr.String(), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetFundraiser retrieves a decoded fundraiser and its vault balance.
func (c *Client) GetFundraiser(ctx context.Context, addr solana.PublicKey) (*FundraiserView, error) {
	var view FundraiserView
	if err := c.do(ctx, http.MethodGet, "/api/v1/fundraisers/"+addr.String(), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetInteraction retrieves a decoded oracle interaction.
func (c *Client) GetInteraction(ctx context.Context, addr solana.PublicKey) (*InteractionView, error) {
	var view InteractionView
	if err := c.do(ctx, http.MethodGet, "/api/v1/interactions/"+addr.String(), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListInteractions lists oracle interactions, only unprocessed ones when
// pending is set.
func (c *Client) ListInteractions(ctx context.Context, pending bool) ([]*InteractionView, error) {
	path := "/api/v1/interactions"
	if pending {
		path += "?pending=true"
	}
	var response struct {
		Interactions []*InteractionView `json:"interactions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Interactions, nil
}

// Airdrop asks the faucet for lamports. It fails unless the server enables it.
func (c *Client) Airdrop(ctx context.Context, to solana.PublicKey, lamports uint64) error {
	return c.do(ctx, http.MethodPost, "/api/v1/airdrop", AirdropRequest{Address: to, Lamports: lamports}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse rebuilds the ledger error described by an error response.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp ErrorResponse

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var err error
	switch {
	case errResp.Code != nil:
		err = &ledger.ProgramError{Code: *errResp.Code, Name: errResp.Name, Message: errResp.Error}
	default:
		if sentinel, ok := ledger.RuntimeErrorByName(errResp.Name); ok {
			err = fmt.Errorf("%w: %s", sentinel, errResp.Error)
		} else {
			err = errors.New(errResp.Error)
		}
	}
	for _, line := range errResp.Logs {
		c.logger.Debug("program log", "line", line)
	}
	if errResp.Instruction != nil {
		return &ledger.TransactionError{Instruction: *errResp.Instruction, Err: err}
	}
	return err
}
