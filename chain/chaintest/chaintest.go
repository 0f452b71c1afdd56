// Package chaintest provides an in-memory chain client for tests.
package chaintest

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"3send.xyz/send/chain"
)

// Client is a fake chain.Client backed by maps.
type Client struct {
	mu sync.Mutex

	receipts map[string]*chain.Receipt
	// contractSigners maps a wallet address to the set of digests it accepts.
	contractSigners map[string]map[[32]byte]bool

	// Err, when set, is returned by every call to simulate infrastructure
	// failure.
	Err error
}

var _ chain.Client = (*Client)(nil)

func New() *Client {
	return &Client{
		receipts:        make(map[string]*chain.Receipt),
		contractSigners: make(map[string]map[[32]byte]bool),
	}
}

// AddReceipt registers a receipt for lookup by its TxHash.
func (c *Client) AddReceipt(r *chain.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[strings.ToLower(r.TxHash)] = r
}

// AcceptContractSignature makes VerifyContractSignature return true for the
// given wallet address and digest.
func (c *Client) AcceptContractSignature(address string, digest [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := strings.ToLower(address)
	if c.contractSigners[addr] == nil {
		c.contractSigners[addr] = make(map[[32]byte]bool)
	}
	c.contractSigners[addr][digest] = true
}

func (c *Client) TransactionReceipt(_ context.Context, txRef string) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return c.receipts[strings.ToLower(txRef)], nil
}

func (c *Client) VerifyContractSignature(_ context.Context, address string, digest [32]byte, _ []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	return c.contractSigners[strings.ToLower(address)][digest], nil
}

// BurnLog builds a receipt log encoding a fee-burn event, for wiring into
// test receipts.
func BurnLog(sender string, tierIndex uint8, primary, secondary *big.Int) chain.Log {
	topicAddr := "0x" + strings.Repeat("0", 24) + strings.TrimPrefix(strings.ToLower(sender), "0x")
	data := make([]byte, 96)
	data[31] = tierIndex
	primary.FillBytes(data[32:64])
	secondary.FillBytes(data[64:96])
	return chain.Log{
		Topics: []string{chain.BurnEventTopic(), topicAddr},
		Data:   data,
	}
}
