package keys

import (
	"errors"

	"3send.xyz/send/chain"
)

// SignHandshake signs the canonical transfer message with the identity's
// on-chain key, producing the 65-byte recoverable signature the verifier
// expects from plain accounts.
func (id *Identity) SignHandshake(message string) ([]byte, error) {
	if id == nil || id.SigningKey == nil {
		return nil, errors.New("keys: no signing key")
	}
	return chain.Sign(id.SigningKey, []byte(message))
}
