package solana

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
)

const hardenedOffset = 0x80000000

var solanaAccountPath = []uint32{44, 501, 0, 0}

// deriveHardened walks a SLIP-0010 ed25519 path from a BIP39 seed. Every
// ed25519 step is hardened, so indexes are offset here.
func deriveHardened(seed []byte, path ...uint32) []byte {
	key, chain := split(hmacSHA512([]byte("ed25519 seed"), seed))

	for _, index := range path {
		data := make([]byte, 0, 1+len(key)+4)
		data = append(data, 0)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, index|hardenedOffset)
		key, chain = split(hmacSHA512(chain, data))
	}
	return key
}

func hmacSHA512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func split(sum []byte) (key, chain []byte) {
	return sum[:32], sum[32:]
}
