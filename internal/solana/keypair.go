package solana

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/openbuilders/loyalty-checkout/internal/helpers"

	"github.com/gagliardetto/solana-go"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/tyler-smith/go-bip39"
	"github.com/xssnick/tonutils-go/ton/wallet"
)

// Keypair holds an ed25519 signing key. The zero value is not usable.
type Keypair struct {
	private solana.PrivateKey
}

func NewKeypair() (*Keypair, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{private: priv}, nil
}

// KeypairFromSecretKey accepts the 64 byte seed||public form used by wallet
// exports and checks that both halves agree.
func KeypairFromSecretKey(secret []byte) (*Keypair, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid secret key length %d", len(secret))
	}

	priv := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	if !bytes.Equal(priv[ed25519.SeedSize:], secret[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("secret key public half does not match seed")
	}

	return &Keypair{private: solana.PrivateKey(priv)}, nil
}

func KeypairFromBase58(s string) (*Keypair, error) {
	b, err := solana.PrivateKeyFromBase58(strings.TrimSpace(s))
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("invalid base58 secret key")
	}
	return KeypairFromSecretKey(b)
}

// KeypairFromMnemonic derives the first account of a BIP39 mnemonic on the
// m/44'/501'/0'/0' path, the key Phantom and solana-keygen show for it.
func KeypairFromMnemonic(mnemonic, passphrase string) (*Keypair, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	key := deriveHardened(seed, solanaAccountPath...)
	return &Keypair{private: solana.PrivateKey(ed25519.NewKeyFromSeed(key))}, nil
}

// KeypairFromTONMnemonic derives the key a TON wallet app derives from its
// 24 word phrase. The address differs from the BIP39 one for the same words.
func KeypairFromTONMnemonic(mnemonic string) (*Keypair, error) {
	key, err := wallet.SeedToPrivateKey(strings.Fields(mnemonic), "", false)
	if err != nil {
		return nil, fmt.Errorf("derive key from mnemonic: %w", err)
	}

	return KeypairFromSecretKey(key)
}

// NewMnemonic returns a fresh 24 word BIP39 phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func (k *Keypair) PublicKey() PublicKey {
	return k.private.PublicKey()
}

func (k *Keypair) Sign(message []byte) (Signature, error) {
	return k.private.Sign(message)
}

// Fingerprint identifies the secret in logs without revealing it.
func (k *Keypair) Fingerprint() string {
	return helpers.Fingerprint(k.private)
}

// SecretBase58 exports the 64 byte secret key. Only tooling should call it.
func (k *Keypair) SecretBase58() string {
	return k.private.String()
}

// NewReference returns a fresh single-use key to tag a checkout transaction.
// The private half is discarded: a reference never signs.
func NewReference() (PublicKey, error) {
	kp, err := NewKeypair()
	if err != nil {
		return PublicKey{}, err
	}
	return kp.PublicKey(), nil
}
