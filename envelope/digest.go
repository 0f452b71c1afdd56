package envelope

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Digest returns the canonical metadata digest bound into the handshake
// message: envelope fields rendered as "key=value" lines sorted by key name,
// absent optional fields omitted, hashed with SHA3-256 and hex encoded.
//
// Because the rendering is sorted and omission-stable, the digest is
// reproducible from either the sender's or the verifier's materialized copy
// of the metadata regardless of field order in transit.
func Digest(env *Envelope) string {
	if env == nil {
		return ""
	}
	fields := map[string]string{
		"algorithm":          env.Algorithm,
		"ciphertextLength":   strconv.FormatUint(env.CiphertextLength, 10),
		"ephemeralPublicKey": hex.EncodeToString(env.EphemeralPublicKey),
		"iv":                 hex.EncodeToString(env.IV),
		"plaintextLength":    strconv.FormatUint(env.PlaintextLength, 10),
		"recipientPublicKey": hex.EncodeToString(env.RecipientPublicKey),
		"version":            strconv.Itoa(env.Version),
	}
	if len(env.NoteCiphertext) > 0 {
		fields["noteCiphertext"] = hex.EncodeToString(env.NoteCiphertext)
		fields["noteIv"] = hex.EncodeToString(env.NoteIV)
		fields["noteEncoding"] = env.NoteEncoding
		fields["noteLength"] = strconv.FormatUint(env.NoteLength, 10)
	}

	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(fields[k])
		sb.WriteString("\n")
	}
	sum := sha3.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
