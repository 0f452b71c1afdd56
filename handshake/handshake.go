// Package handshake builds and parses the canonical transfer message.
//
// The message is the single signable artifact binding sender, recipient,
// chain, payment reference, timing, tier, sizes, and the envelope metadata
// digest. Given the same inputs, Build produces byte-identical output, which
// is what lets a verifier reconstruct the expected message from fields it
// trusts and require byte-equality before accepting a signature.
package handshake

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Header and Intro open every message exactly; parsing rejects any
	// deviation.
	Header = "3SEND ENCRYPTED TRANSFER v1"
	Intro  = "I authorize this encrypted file transfer:"

	keyFrom     = "From"
	keyTo       = "To"
	keyChain    = "Chain"
	keyRef      = "Payment-Ref"
	keySentAt   = "Sent-At"
	keyTier     = "Tier"
	keyPlain    = "Plain-Bytes"
	keyCipher   = "Cipher-Bytes"
	keyFilename = "Filename"
	keyDigest   = "Metadata-Digest"
)

// fieldOrder is the canonical emit order. Filename is the only optional field.
var fieldOrder = []string{
	keyFrom, keyTo, keyChain, keyRef, keySentAt, keyTier,
	keyPlain, keyCipher, keyFilename, keyDigest,
}

// Params are the message fields. Build normalizes them; Parse returns them as
// found in the message.
type Params struct {
	From           string
	To             string
	ChainID        uint64
	PaymentRef     string
	SentAtMillis   int64
	TierID         string
	PlainBytes     uint64
	CipherBytes    uint64
	Filename       string // optional
	MetadataDigest string
}

// Build renders the canonical message. Addresses are normalized to lowercase
// 0x-hex, numerics are clamped to non-negative, and free-text fields are
// sanitized (newlines stripped, whitespace collapsed, separator escaped).
func Build(p Params) (string, error) {
	from, err := normalizeAddress(p.From, "HSK-ADDR-001", "From")
	if err != nil {
		return "", err
	}
	to, err := normalizeAddress(p.To, "HSK-ADDR-002", "To")
	if err != nil {
		return "", err
	}
	ref := strings.TrimSpace(p.PaymentRef)
	if ref == "" || strings.ContainsAny(ref, " \t\r\n") {
		return "", newError(KindInvalidField, "HSK-REF-001", "payment reference missing or contains whitespace")
	}
	tierID := strings.TrimSpace(p.TierID)
	if tierID == "" || !isToken(tierID) {
		return "", newError(KindInvalidField, "HSK-TIER-001", "tier id must be a lowercase token")
	}
	digest := strings.ToLower(strings.TrimSpace(p.MetadataDigest))
	if !isHex(digest) || len(digest) != 64 {
		return "", newError(KindInvalidField, "HSK-DIG-001", "metadata digest must be 64 hex characters")
	}
	sentAt := p.SentAtMillis
	if sentAt < 0 {
		sentAt = 0
	}
	filename := sanitizeText(p.Filename)

	var sb strings.Builder
	sb.WriteString(Header)
	sb.WriteString("\n")
	sb.WriteString(Intro)
	sb.WriteString("\n")
	write := func(key, value string) {
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}
	write(keyFrom, from)
	write(keyTo, to)
	write(keyChain, strconv.FormatUint(p.ChainID, 10))
	write(keyRef, ref)
	write(keySentAt, strconv.FormatInt(sentAt, 10))
	write(keyTier, tierID)
	write(keyPlain, strconv.FormatUint(p.PlainBytes, 10))
	write(keyCipher, strconv.FormatUint(p.CipherBytes, 10))
	if filename != "" {
		write(keyFilename, filename)
	}
	sb.WriteString(keyDigest)
	sb.WriteString(": ")
	sb.WriteString(digest)
	return sb.String(), nil
}

// Parse validates a message against the canonical shape and extracts its
// fields. Structural deviations return KindMalformed errors; numeric fields
// that do not parse as non-negative integers return KindInvalidNumber.
func Parse(message string) (*Params, error) {
	if strings.Contains(message, "\r") {
		return nil, newError(KindMalformed, "HSK-STR-003", "CR line endings not allowed")
	}
	lines := strings.Split(message, "\n")
	if len(lines) < 2 || lines[0] != Header {
		return nil, newError(KindMalformed, "HSK-STR-001", "missing or inexact header line")
	}
	if lines[1] != Intro {
		return nil, newError(KindMalformed, "HSK-STR-002", "missing or inexact intro line")
	}

	seen := make(map[string]string, len(fieldOrder))
	orderIdx := 0
	for _, line := range lines[2:] {
		key, value, ok := strings.Cut(line, ": ")
		if !ok || key == "" {
			return nil, newError(KindMalformed, "HSK-STR-010", "line lacks key/value separator")
		}
		if _, dup := seen[key]; dup {
			return nil, newError(KindMalformed, "HSK-STR-012", fmt.Sprintf("duplicate field %q", key))
		}
		// Advance through the fixed order; skipping is only legal for the
		// optional Filename field.
		pos := -1
		for i := orderIdx; i < len(fieldOrder); i++ {
			if fieldOrder[i] == key {
				pos = i
				break
			}
			if fieldOrder[i] != keyFilename {
				break
			}
		}
		if pos < 0 {
			return nil, newError(KindMalformed, "HSK-STR-011", fmt.Sprintf("unknown or out-of-order field %q", key))
		}
		orderIdx = pos + 1
		seen[key] = value
	}

	for _, key := range fieldOrder {
		if key == keyFilename {
			continue
		}
		if _, ok := seen[key]; !ok {
			return nil, newError(KindMalformed, "HSK-FLD-001", fmt.Sprintf("missing required field %q", key))
		}
	}

	chainID, err := parseUint(seen[keyChain], keyChain)
	if err != nil {
		return nil, err
	}
	sentAt, err := parseUint(seen[keySentAt], keySentAt)
	if err != nil {
		return nil, err
	}
	plain, err := parseUint(seen[keyPlain], keyPlain)
	if err != nil {
		return nil, err
	}
	cipher, err := parseUint(seen[keyCipher], keyCipher)
	if err != nil {
		return nil, err
	}

	return &Params{
		From:           seen[keyFrom],
		To:             seen[keyTo],
		ChainID:        chainID,
		PaymentRef:     seen[keyRef],
		SentAtMillis:   int64(sentAt),
		TierID:         seen[keyTier],
		PlainBytes:     plain,
		CipherBytes:    cipher,
		Filename:       seen[keyFilename],
		MetadataDigest: seen[keyDigest],
	}, nil
}

func parseUint(s, field string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return 0, newError(KindInvalidNumber, "HSK-NUM-001", fmt.Sprintf("%s is not a non-negative integer", field))
	}
	return n, nil
}

func normalizeAddress(addr, ruleID, field string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(addr))
	if len(a) != 42 || !strings.HasPrefix(a, "0x") || !isHex(a[2:]) {
		return "", newError(KindInvalidField, ruleID, fmt.Sprintf("%s is not a 20-byte hex address", field))
	}
	return a, nil
}

// sanitizeText makes a free-text value safe for single-line embedding: CR/LF
// become spaces, whitespace runs collapse to one space, and the separator
// colon is escaped so a value can never fabricate a field boundary.
func sanitizeText(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, ":", `\x3a`)
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

func isToken(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}
