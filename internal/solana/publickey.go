package solana

import (
	"github.com/gagliardetto/solana-go"
)

// The wire types come from the SDK so that keys and signatures flow into its
// RPC client and program encoders unchanged.
type (
	PublicKey   = solana.PublicKey
	Hash        = solana.Hash
	Signature   = solana.Signature
	AccountMeta = solana.AccountMeta
	Message     = solana.Message
)

var (
	SystemProgramID          = solana.SystemProgramID
	TokenProgramID           = solana.TokenProgramID
	AssociatedTokenProgramID = solana.SPLAssociatedTokenAccountProgramID
)

func PublicKeyFromBase58(s string) (PublicKey, error) {
	return solana.PublicKeyFromBase58(s)
}

func MustPublicKey(s string) PublicKey {
	return solana.MustPublicKeyFromBase58(s)
}

func HashFromBase58(s string) (Hash, error) {
	return solana.HashFromBase58(s)
}

func SignatureFromBase58(s string) (Signature, error) {
	return solana.SignatureFromBase58(s)
}

// Meta returns a read-only, non-signing account reference. Chain SIGNER and
// WRITE to widen it.
func Meta(pk PublicKey) *AccountMeta {
	return solana.Meta(pk)
}

// FindAssociatedTokenAddress derives owner's canonical holding account for
// mint.
func FindAssociatedTokenAddress(owner, mint PublicKey) (PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	return ata, err
}
