package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore is a simple local-first seed store: one directory per named
// identity, holding a single seed file. Seeds are stored hex encoded with
// 0600 permissions and are never overwritten unless the caller forces it.
type KeyStore struct {
	Directory string
}

// Entry describes one stored identity.
type Entry struct {
	Name    string
	Address string
}

func DefaultDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".3send", "keys"), nil
}

func OpenKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) seedPath(name string) string {
	return filepath.Join(ks.Directory, name, "seed.hex")
}

// CheckName validates an identity name: non-empty, alphanumeric plus dash and
// underscore, so names map cleanly onto directory entries.
func CheckName(name string) error {
	if name == "" {
		return errors.New("identity name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in identity name", char)
	}
	return nil
}

// ParseSeedHex decodes a hex seed string, tolerating whitespace and an
// optional 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty seed")
	}
	return data, nil
}

func (ks *KeyStore) saveSeed(path string, seed []byte, overwrite bool) error {
	if len(seed) == 0 {
		return errors.New("empty seed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

func (ks *KeyStore) loadSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(data))
}

// Init stores the seed for a new named identity and returns its derived
// address. With overwrite false an existing identity is an error.
func (ks *KeyStore) Init(name string, seed []byte, overwrite bool) (*Identity, string, error) {
	if err := CheckName(name); err != nil {
		return nil, "", err
	}
	id, err := FromSeed(seed)
	if err != nil {
		return nil, "", err
	}
	path := ks.seedPath(name)
	if err := ks.saveSeed(path, seed, overwrite); err != nil {
		return nil, "", err
	}
	return id, path, nil
}

// Load derives the identity stored under name.
func (ks *KeyStore) Load(name string) (*Identity, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	seed, err := ks.loadSeed(ks.seedPath(name))
	if err != nil {
		return nil, err
	}
	return FromSeed(seed)
}

// LoadSeed resolves seed material from the first source provided: a literal
// hex seed, an explicit file path, or a stored identity name.
func (ks *KeyStore) LoadSeed(seedHex, name, keyFile string) ([]byte, error) {
	if seedHex != "" {
		return ParseSeedHex(seedHex)
	}
	if keyFile != "" {
		return ks.loadSeed(keyFile)
	}
	if name != "" {
		if err := CheckName(name); err != nil {
			return nil, err
		}
		return ks.loadSeed(ks.seedPath(name))
	}
	return nil, errors.New("no seed source provided")
}

// List enumerates stored identities with their derived addresses. Entries
// whose seed fails to parse are listed with an empty address rather than
// aborting the listing.
func (ks *KeyStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range dirEntries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var result []Entry
	for _, name := range names {
		entry := Entry{Name: name}
		if id, err := ks.Load(name); err == nil {
			entry.Address = id.Address
		}
		result = append(result, entry)
	}
	return result, nil
}
