// Package client talks to a timelock node over its HTTP JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"timelock.mini/tlm/internal/anchor"
	"timelock.mini/tlm/internal/api"
	"timelock.mini/tlm/internal/executor"
	"timelock.mini/tlm/internal/identity"
	"timelock.mini/tlm/internal/store"
	"timelock.mini/tlm/internal/types"
)

// DefaultAddr is used when New is given an empty address.
const DefaultAddr = "http://localhost:8080"

// TxError is returned when the node rejects a transaction.
type TxError struct {
	Result executor.Result
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction failed with code %d: %s", e.Result.Code, e.Result.Log)
}

// APIError is a non-2xx response from a query endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// Client is a node API client.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the node at addr, e.g. "http://localhost:8080".
func New(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SubmitTx applies a signed transaction. A rejected transaction returns
// its result together with a *TxError.
func (c *Client) SubmitTx(ctx context.Context, stx *types.SignedTransaction) (executor.Result, error) {
	return c.postTx(ctx, "/api/tx", stx)
}

// CheckTx validates a signed transaction without applying it.
func (c *Client) CheckTx(ctx context.Context, stx *types.SignedTransaction) (executor.Result, error) {
	return c.postTx(ctx, "/api/tx/check", stx)
}

func (c *Client) postTx(ctx context.Context, path string, stx *types.SignedTransaction) (executor.Result, error) {
	var res executor.Result
	body, err := json.Marshal(stx)
	if err != nil {
		return res, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return res, fmt.Errorf("failed to send transaction: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return res, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(respBytes, &res); err != nil {
		return res, fmt.Errorf("failed to parse response: %w (body: %s)", err, string(respBytes))
	}
	// Bodies without a code are plain API errors.
	if resp.StatusCode != http.StatusOK && res.Code == executor.CodeTypeOK {
		return res, decodeAPIError(resp.StatusCode, respBytes)
	}
	if !res.IsOK() {
		return res, &TxError{Result: res}
	}
	return res, nil
}

// Timestamp looks up a hash. Timestamp is zero when it was never stamped.
func (c *Client) Timestamp(ctx context.Context, hash types.Hash) (api.HashInfo, error) {
	var info api.HashInfo
	err := c.get(ctx, "/api/hashes/"+hash.String(), nil, &info)
	return info, err
}

// Verify reports whether hash has been stamped.
func (c *Client) Verify(ctx context.Context, hash types.Hash) (bool, error) {
	var out struct {
		Verified bool `json:"verified"`
	}
	err := c.get(ctx, "/api/hashes/"+hash.String()+"/verify", nil, &out)
	return out.Verified, err
}

// Proof fetches the anchor inclusion proof for hash.
func (c *Client) Proof(ctx context.Context, hash types.Hash) (anchor.Proof, error) {
	var p anchor.Proof
	err := c.get(ctx, "/api/hashes/"+hash.String()+"/proof", nil, &p)
	return p, err
}

func (c *Client) Price(ctx context.Context) (types.Amount, error) {
	var out struct {
		Price types.Amount `json:"price_per_byte"`
	}
	err := c.get(ctx, "/api/price", nil, &out)
	return out.Price, err
}

// Quote asks the node for the fee of a file of size bytes.
func (c *Client) Quote(ctx context.Context, size uint64) (api.Quote, error) {
	var q api.Quote
	err := c.get(ctx, "/api/quote", url.Values{"size": {strconv.FormatUint(size, 10)}}, &q)
	return q, err
}

func (c *Client) Stats(ctx context.Context) (types.Stats, error) {
	var s types.Stats
	err := c.get(ctx, "/api/stats", nil, &s)
	return s, err
}

func (c *Client) Owner(ctx context.Context) (types.AccountID, error) {
	var out struct {
		Owner types.AccountID `json:"owner"`
	}
	err := c.get(ctx, "/api/owner", nil, &out)
	return out.Owner, err
}

func (c *Client) Balance(ctx context.Context) (types.Amount, error) {
	var out struct {
		Balance types.Amount `json:"balance"`
	}
	err := c.get(ctx, "/api/balance", nil, &out)
	return out.Balance, err
}

// Funds reports the deposited funds of account.
func (c *Client) Funds(ctx context.Context, account types.AccountID) (api.AccountFunds, error) {
	var out api.AccountFunds
	err := c.get(ctx, "/api/accounts/"+url.PathEscape(string(account)), nil, &out)
	return out, err
}

// Events lists journaled events after seq.
func (c *Client) Events(ctx context.Context, after uint64, limit int) ([]types.Event, error) {
	q := url.Values{"after": {strconv.FormatUint(after, 10)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var evs []types.Event
	err := c.get(ctx, "/api/events", q, &evs)
	return evs, err
}

// CreateBackup asks the node to write a backup and returns its name. The
// request is signed with id, which must be the ledger owner.
func (c *Client) CreateBackup(ctx context.Context, id *identity.Identity) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/backups", nil, id)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Name string `json:"name"`
	}
	if err := readJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

// ListBackups lists the node's backups, newest first. Signed with id.
func (c *Client) ListBackups(ctx context.Context, id *identity.Identity) ([]store.BackupFile, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/backups", nil, id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []store.BackupFile
	err = readJSON(resp, &out)
	return out, err
}

// DownloadBackup writes the decompressed database of the named backup to w,
// or a fresh snapshot when name is empty. Signed with id.
func (c *Client) DownloadBackup(ctx context.Context, id *identity.Identity, name string, w io.Writer) (int64, error) {
	var query url.Values
	if name != "" {
		query = url.Values{"name": {name}}
	}
	resp, err := c.send(ctx, http.MethodGet, "/api/backups/download", query, id)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, decodeAPIError(resp.StatusCode, body)
	}
	n, err := io.Copy(w, brotli.NewReader(resp.Body))
	if err != nil {
		return n, fmt.Errorf("failed to read backup: %w", err)
	}
	return n, nil
}

// send issues a request, signing it with id when id is not nil.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, id *identity.Identity) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	if id != nil {
		types.SignRequest(req, id, time.Now())
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", path, err)
	}
	return resp, nil
}

func readJSON(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.send(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return readJSON(resp, out)
}

func decodeAPIError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(body))
	}
	return &APIError{Status: status, Message: e.Error}
}
