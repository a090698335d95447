package solana

import (
	"encoding/base64"

	"github.com/openbuilders/loyalty-checkout/internal/errors"
)

// Encode serializes tx for transport to the buyer's wallet. The buyer has
// not signed yet, so incomplete signature sets are allowed.
func Encode(tx *Transaction) (string, error) {
	b, err := tx.Serialize(false)
	if err != nil {
		return "", errors.Serialization("couldn't serialize transaction", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func Decode(s string) (*Transaction, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Serialization("transaction is not valid base64", err)
	}

	tx, err := Deserialize(b)
	if err != nil {
		return nil, errors.Serialization("malformed transaction", err)
	}
	return tx, nil
}
