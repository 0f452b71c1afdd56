// Package keys manages transfer identities: a BIP-39 mnemonic expands into a
// deterministic secp256k1 signing key (the on-chain identity) and an X25519
// envelope key (the decryption identity), both derived from one seed.
//
// Stable:
//   - Pure, deterministic derivation from seed material.
//
// Experimental:
//   - Filesystem-backed seed storage and convenience helpers (KeyStore and
//     related functions). These are local-first utilities, not part of the
//     long-term protocol contract.
package keys
