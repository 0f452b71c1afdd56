package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"3send.xyz/send/envelope"
	"3send.xyz/send/handshake"
	"3send.xyz/send/keys"
	"3send.xyz/send/tier"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "seal":
		return cmdSeal(args[1:], out, errOut)
	case "open":
		return cmdOpen(args[1:], out, errOut)
	case "handshake":
		return cmdHandshake(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "3send: encrypted transfer CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  3send key init --name <name> [--mnemonic <words>] [--passphrase <p>] [--force]")
	fmt.Fprintln(w, "  3send key list")
	fmt.Fprintln(w, "  3send key export --name <name>")
	fmt.Fprintln(w, "  3send seal --to <hex-envelope-pubkey> --in <file> --out <file> --meta <file> [--note <text>]")
	fmt.Fprintln(w, "  3send open --name <name> --in <file> --meta <file> --out <file> [--show-note]")
	fmt.Fprintln(w, "  3send handshake build --from <addr> --to <addr> --chain-id <n> --payment-ref <ref> --meta <file> [--filename <name>] [--sent-at <unix-ms>]")
	fmt.Fprintln(w, "  3send handshake sign --name <name> --message-file <file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - key init prints the generated mnemonic exactly once; store it safely")
	fmt.Fprintln(w, "  - seeds live under ~/.3send/keys/<name> (0600 seed files)")
	fmt.Fprintln(w, "  - seal writes envelope metadata JSON to --meta; share it with the upload")
	fmt.Fprintln(w, "  - handshake build prints the canonical message (no trailing newline)")
	fmt.Fprintln(w, "  - handshake sign prints a 0x-prefixed 65-byte signature")
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: 3send key <init|list|export> ...")
		return 2
	}
	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("key init", flag.ContinueOnError)
		fs.SetOutput(errOut)
		name := fs.String("name", "", "identity name")
		mnemonic := fs.String("mnemonic", "", "existing BIP-39 mnemonic (generated if omitted)")
		passphrase := fs.String("passphrase", "", "optional mnemonic passphrase")
		dir := fs.String("dir", "", "key store directory (default ~/.3send/keys)")
		force := fs.Bool("force", false, "overwrite an existing identity")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		ks, err := keys.OpenKeyStore(*dir)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		generated := false
		words := *mnemonic
		if words == "" {
			words, err = keys.NewMnemonic()
			if err != nil {
				fmt.Fprintf(errOut, "generate mnemonic: %v\n", err)
				return 1
			}
			generated = true
		}
		seed, err := keys.SeedFromMnemonic(words, *passphrase)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		id, path, err := ks.Init(*name, seed, *force)
		if err != nil {
			fmt.Fprintf(errOut, "init identity: %v\n", err)
			return 1
		}
		address, envPub, _ := keys.ExportPublic(id)
		fmt.Fprintf(out, "name: %s\n", *name)
		fmt.Fprintf(out, "address: %s\n", address)
		fmt.Fprintf(out, "envelope-key: %s\n", envPub)
		fmt.Fprintf(out, "seed-file: %s\n", path)
		if generated {
			fmt.Fprintf(out, "mnemonic: %s\n", words)
		}
		return 0
	case "list":
		fs := flag.NewFlagSet("key list", flag.ContinueOnError)
		fs.SetOutput(errOut)
		dir := fs.String("dir", "", "key store directory (default ~/.3send/keys)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		ks, err := keys.OpenKeyStore(*dir)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		entries, err := ks.List()
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		for _, e := range entries {
			if e.Address == "" {
				fmt.Fprintf(out, "%s\t(unreadable seed)\n", e.Name)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\n", e.Name, e.Address)
		}
		return 0
	case "export":
		fs := flag.NewFlagSet("key export", flag.ContinueOnError)
		fs.SetOutput(errOut)
		name := fs.String("name", "", "identity name")
		dir := fs.String("dir", "", "key store directory (default ~/.3send/keys)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		ks, err := keys.OpenKeyStore(*dir)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		id, err := ks.Load(*name)
		if err != nil {
			fmt.Fprintf(errOut, "load identity: %v\n", err)
			return 1
		}
		address, envPub, _ := keys.ExportPublic(id)
		fmt.Fprintf(out, "address: %s\n", address)
		fmt.Fprintf(out, "envelope-key: %s\n", envPub)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n", args[0])
		return 2
	}
}

func cmdSeal(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	fs.SetOutput(errOut)
	to := fs.String("to", "", "recipient envelope public key (hex)")
	in := fs.String("in", "", "plaintext input file")
	outPath := fs.String("out", "", "ciphertext output file")
	metaPath := fs.String("meta", "", "envelope metadata output file")
	note := fs.String("note", "", "optional note for the recipient")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *to == "" || *in == "" || *outPath == "" || *metaPath == "" {
		fmt.Fprintln(errOut, "usage: 3send seal --to <hexpub> --in <file> --out <file> --meta <file> [--note <text>]")
		return 2
	}
	recipientPub, err := keys.ParseEnvelopePublicKey(*to)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	plaintext, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(errOut, "read input: %v\n", err)
		return 1
	}
	ciphertext, env, err := envelope.Seal(plaintext, recipientPub[:], []byte(*note))
	if err != nil {
		fmt.Fprintf(errOut, "seal: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*outPath, ciphertext, 0o644); err != nil {
		fmt.Fprintf(errOut, "write ciphertext: %v\n", err)
		return 1
	}
	meta, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := os.WriteFile(*metaPath, meta, 0o644); err != nil {
		fmt.Fprintf(errOut, "write metadata: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "metadata-digest: %s\n", envelope.Digest(env))
	return 0
}

func cmdOpen(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	fs.SetOutput(errOut)
	name := fs.String("name", "", "identity name")
	dir := fs.String("dir", "", "key store directory (default ~/.3send/keys)")
	in := fs.String("in", "", "ciphertext input file")
	metaPath := fs.String("meta", "", "envelope metadata file")
	outPath := fs.String("out", "", "plaintext output file")
	showNote := fs.Bool("show-note", false, "print the sender note if present")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *in == "" || *metaPath == "" || *outPath == "" {
		fmt.Fprintln(errOut, "usage: 3send open --name <name> --in <file> --meta <file> --out <file> [--show-note]")
		return 2
	}
	ks, err := keys.OpenKeyStore(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	id, err := ks.Load(*name)
	if err != nil {
		fmt.Fprintf(errOut, "load identity: %v\n", err)
		return 1
	}
	env, err := readEnvelope(*metaPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	ciphertext, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(errOut, "read ciphertext: %v\n", err)
		return 1
	}
	plaintext, err := envelope.Open(ciphertext, env, id.EnvelopeKey)
	if err != nil {
		fmt.Fprintf(errOut, "open: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*outPath, plaintext, 0o600); err != nil {
		fmt.Fprintf(errOut, "write plaintext: %v\n", err)
		return 1
	}
	if *showNote && len(env.NoteCiphertext) > 0 {
		note, err := envelope.OpenNote(env, id.EnvelopeKey)
		if err != nil {
			fmt.Fprintf(errOut, "open note: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "note: %s\n", note)
	}
	return 0
}

func cmdHandshake(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: 3send handshake <build|sign> ...")
		return 2
	}
	switch args[0] {
	case "build":
		return cmdHandshakeBuild(args[1:], out, errOut)
	case "sign":
		return cmdHandshakeSign(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown handshake subcommand: %s\n", args[0])
		return 2
	}
}

func cmdHandshakeBuild(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("handshake build", flag.ContinueOnError)
	fs.SetOutput(errOut)
	from := fs.String("from", "", "initiator address")
	to := fs.String("to", "", "recipient address")
	chainID := fs.Uint64("chain-id", 0, "chain id")
	paymentRef := fs.String("payment-ref", "", "payment reference (tx hash or free claim)")
	metaPath := fs.String("meta", "", "envelope metadata file")
	filename := fs.String("filename", "", "optional display filename")
	sentAt := fs.Int64("sent-at", 0, "sent-at unix milliseconds (default now)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *from == "" || *to == "" || *paymentRef == "" || *metaPath == "" {
		fmt.Fprintln(errOut, "usage: 3send handshake build --from <addr> --to <addr> --chain-id <n> --payment-ref <ref> --meta <file> [--filename <name>] [--sent-at <unix-ms>]")
		return 2
	}
	env, err := readEnvelope(*metaPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	resolved, ok := tier.Default().ResolveBySize(env.PlaintextLength)
	if !ok {
		fmt.Fprintln(errOut, "no fee tier covers this file size")
		return 1
	}
	when := *sentAt
	if when == 0 {
		when = time.Now().UnixMilli()
	}
	message, err := handshake.Build(handshake.Params{
		From:           *from,
		To:             *to,
		ChainID:        *chainID,
		PaymentRef:     *paymentRef,
		SentAtMillis:   when,
		TierID:         resolved.ID,
		PlainBytes:     env.PlaintextLength,
		CipherBytes:    env.CiphertextLength,
		Filename:       *filename,
		MetadataDigest: envelope.Digest(env),
	})
	if err != nil {
		fmt.Fprintf(errOut, "build handshake: %v\n", err)
		return 1
	}
	_, _ = io.WriteString(out, message)
	return 0
}

func cmdHandshakeSign(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("handshake sign", flag.ContinueOnError)
	fs.SetOutput(errOut)
	name := fs.String("name", "", "identity name")
	dir := fs.String("dir", "", "key store directory (default ~/.3send/keys)")
	messageFile := fs.String("message-file", "", "canonical message file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *messageFile == "" {
		fmt.Fprintln(errOut, "usage: 3send handshake sign --name <name> --message-file <file>")
		return 2
	}
	ks, err := keys.OpenKeyStore(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	id, err := ks.Load(*name)
	if err != nil {
		fmt.Fprintf(errOut, "load identity: %v\n", err)
		return 1
	}
	message, err := os.ReadFile(*messageFile)
	if err != nil {
		fmt.Fprintf(errOut, "read message: %v\n", err)
		return 1
	}
	// Signing exactly the canonical bytes matters; reject anything that does
	// not parse rather than sign a near-miss.
	if _, err := handshake.Parse(string(message)); err != nil {
		fmt.Fprintf(errOut, "message is not canonical: %v\n", err)
		return 1
	}
	sig, err := id.SignHandshake(string(message))
	if err != nil {
		fmt.Fprintf(errOut, "sign: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "0x%s\n", hex.EncodeToString(sig))
	return 0
}

func readEnvelope(path string) (*envelope.Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var env envelope.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if err := envelope.Validate(&env); err != nil {
		return nil, err
	}
	return &env, nil
}
