package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// RPCClient implements Client over an EVM JSON-RPC HTTP endpoint.
//
// Timeout applies per request when non-zero and no deadline is already set on
// the caller's context.
type RPCClient struct {
	URL     string
	HTTP    *http.Client
	Timeout time.Duration

	nextID atomic.Uint64
}

var _ Client = (*RPCClient)(nil)

// NewRPCClient returns a client for the given endpoint URL.
func NewRPCClient(url string, timeout time.Duration) *RPCClient {
	return &RPCClient{URL: url, HTTP: &http.Client{}, Timeout: timeout}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcReceipt struct {
	TransactionHash string   `json:"transactionHash"`
	Status          string   `json:"status"`
	From            string   `json:"from"`
	To              string   `json:"to"`
	Logs            []rpcLog `json:"logs"`
}

type rpcLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// TransactionReceipt fetches a receipt via eth_getTransactionReceipt.
// An unknown transaction yields (nil, nil).
func (c *RPCClient) TransactionReceipt(ctx context.Context, txRef string) (*Receipt, error) {
	if !IsTxRef(txRef) {
		return nil, nil
	}
	var raw json.RawMessage
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txRef}, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var rr rpcReceipt
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("chain: decode receipt: %w", err)
	}
	status, err := hexQuantity(rr.Status)
	if err != nil {
		return nil, fmt.Errorf("chain: receipt status: %w", err)
	}
	out := &Receipt{
		TxHash: strings.ToLower(rr.TransactionHash),
		Status: status,
		From:   strings.ToLower(rr.From),
		To:     strings.ToLower(rr.To),
	}
	for _, l := range rr.Logs {
		data, err := hexBytes(l.Data)
		if err != nil {
			return nil, fmt.Errorf("chain: log data: %w", err)
		}
		out.Logs = append(out.Logs, Log{Address: strings.ToLower(l.Address), Topics: l.Topics, Data: data})
	}
	return out, nil
}

// erc1271Selector is isValidSignature(bytes32,bytes).
var erc1271Selector = []byte{0x16, 0x26, 0xba, 0x7e}

// VerifyContractSignature calls isValidSignature on the wallet contract and
// checks for the ERC-1271 magic return value.
func (c *RPCClient) VerifyContractSignature(ctx context.Context, address string, digest [32]byte, sig []byte) (bool, error) {
	addr, ok := NormalizeAddress(address)
	if !ok {
		return false, fmt.Errorf("chain: invalid wallet address %q", address)
	}
	data := encodeIsValidSignatureCall(digest, sig)
	var result string
	err := c.call(ctx, "eth_call", []any{
		map[string]string{"to": addr, "data": "0x" + hex.EncodeToString(data)},
		"latest",
	}, &result)
	if err != nil {
		// A revert means the contract rejected the signature; only transport
		// failures propagate as errors.
		var re *rpcError
		if asRPCError(err, &re) {
			return false, nil
		}
		return false, err
	}
	ret, err := hexBytes(result)
	if err != nil || len(ret) < 4 {
		return false, nil
	}
	return bytes.Equal(ret[:4], erc1271Selector), nil
}

func encodeIsValidSignatureCall(digest [32]byte, sig []byte) []byte {
	// selector || digest || offset(bytes)=0x40 || len(sig) || sig padded to 32
	padded := len(sig)
	if rem := padded % 32; rem != 0 {
		padded += 32 - rem
	}
	out := make([]byte, 0, 4+32+32+32+padded)
	out = append(out, erc1271Selector...)
	out = append(out, digest[:]...)
	out = append(out, leftPadUint(0x40)...)
	out = append(out, leftPadUint(uint64(len(sig)))...)
	out = append(out, sig...)
	out = append(out, make([]byte, padded-len(sig))...)
	return out
}

func leftPadUint(n uint64) []byte {
	var word [32]byte
	for i := 0; n > 0; i++ {
		word[31-i] = byte(n)
		n >>= 8
	}
	return word[:]
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	if c.Timeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chain: rpc transport: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chain: rpc http status %d", resp.StatusCode)
	}
	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("chain: rpc decode: %w", err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if result != nil {
		if err := json.Unmarshal(rr.Result, result); err != nil {
			return fmt.Errorf("chain: rpc result: %w", err)
		}
	}
	return nil
}

func asRPCError(err error, target **rpcError) bool {
	re, ok := err.(*rpcError)
	if ok {
		*target = re
	}
	return ok
}

func hexQuantity(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	return strconv.ParseUint(s, 16, 64)
}

func hexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
