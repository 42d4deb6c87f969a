package envelope

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
)

// LoadOrGenerateSecp256k1Signer reads a hex-encoded private key from path,
// or generates and persists a fresh one if the file does not exist yet —
// the engine-identity analogue of the teacher's node.key (internal/node/config.go's
// IdentityConfig.KeyFile). Unlike the wallet package's seed files, this key
// is not passphrase-encrypted: it signs protocol envelopes, not funds.
func LoadOrGenerateSecp256k1Signer(path string) (*Secp256k1Signer, *Secp256k1Verifier, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return decodeSecp256k1KeyFile(data)
	}
	if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("envelope: read key file: %w", err)
	}

	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, fmt.Errorf("envelope: create key directory: %w", err)
	}
	encoded := hex.EncodeToString(key.Serialize())
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, nil, fmt.Errorf("envelope: write key file: %w", err)
	}

	return NewSecp256k1Signer(key), NewSecp256k1Verifier(key.PubKey()), nil
}

func decodeSecp256k1KeyFile(data []byte) (*Secp256k1Signer, *Secp256k1Verifier, error) {
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: decode key file: %w", err)
	}
	key, pub := btcec.PrivKeyFromBytes(raw)
	return NewSecp256k1Signer(key), NewSecp256k1Verifier(pub), nil
}
