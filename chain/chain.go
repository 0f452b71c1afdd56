// Package chain talks to the payment chain: receipt lookup, burn-event
// decoding, and EVM-style signature handling for both plain accounts and
// smart-contract wallets.
package chain

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
)

// Client is the chain collaborator consumed by the payment verifier.
//
// TransactionReceipt returns (nil, nil) when the transaction is unknown;
// errors are reserved for transport failures.
type Client interface {
	TransactionReceipt(ctx context.Context, txRef string) (*Receipt, error)

	// VerifyContractSignature checks an ERC-1271 style signature against the
	// wallet contract deployed at address.
	VerifyContractSignature(ctx context.Context, address string, digest [32]byte, sig []byte) (bool, error)
}

// Receipt is the subset of a transaction receipt the verifier needs.
type Receipt struct {
	TxHash string
	Status uint64 // 1 = success
	From   string
	To     string
	Logs   []Log
}

// Log is one event entry from a receipt.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
}

// BurnEvent is the decoded fee-burn log entry proving a payment was consumed.
type BurnEvent struct {
	Sender          string
	TierIndex       uint8
	AmountPrimary   *big.Int
	AmountSecondary *big.Int
}

// burnEventSignature is the Solidity event the fee contract emits on payment:
//
//	event FeeBurned(address indexed sender, uint8 tier, uint256 amountPrimary, uint256 amountSecondary);
const burnEventSignature = "FeeBurned(address,uint8,uint256,uint256)"

var burnEventTopic = "0x" + hex.EncodeToString(keccak256([]byte(burnEventSignature)))

// BurnEventTopic returns the topic0 value identifying the fee-burn event.
func BurnEventTopic() string { return burnEventTopic }

// DecodeBurnEvent decodes a fee-burn event from a receipt log. It returns
// false for logs that are not burn events or that are structurally invalid.
func DecodeBurnEvent(l Log) (*BurnEvent, bool) {
	if len(l.Topics) < 2 {
		return nil, false
	}
	if !strings.EqualFold(l.Topics[0], burnEventTopic) {
		return nil, false
	}
	sender, ok := addressFromTopic(l.Topics[1])
	if !ok {
		return nil, false
	}
	if len(l.Data) != 96 {
		return nil, false
	}
	tierWord := new(big.Int).SetBytes(l.Data[0:32])
	if !tierWord.IsUint64() || tierWord.Uint64() > 255 {
		return nil, false
	}
	return &BurnEvent{
		Sender:          sender,
		TierIndex:       uint8(tierWord.Uint64()),
		AmountPrimary:   new(big.Int).SetBytes(l.Data[32:64]),
		AmountSecondary: new(big.Int).SetBytes(l.Data[64:96]),
	}, true
}

// addressFromTopic extracts the address packed into an indexed event topic
// (a 32-byte word with the address in the low 20 bytes).
func addressFromTopic(topic string) (string, bool) {
	t := strings.ToLower(strings.TrimPrefix(topic, "0x"))
	if len(t) != 64 || !isHex(t) {
		return "", false
	}
	return "0x" + t[24:], true
}

// NormalizeAddress lowercases an EVM address and validates its shape.
func NormalizeAddress(addr string) (string, bool) {
	a := strings.ToLower(strings.TrimSpace(addr))
	if len(a) != 42 || !strings.HasPrefix(a, "0x") || !isHex(a[2:]) {
		return "", false
	}
	return a, true
}

// IsTxRef reports whether s looks like a transaction hash reference.
func IsTxRef(s string) bool {
	s = strings.ToLower(s)
	return len(s) == 66 && strings.HasPrefix(s, "0x") && isHex(s[2:])
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			continue
		}
		return false
	}
	return true
}
