package solana

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// MaxTransactionSize is the ledger's packet data limit.
const MaxTransactionSize = 1232

// Transaction is an ordered instruction list bound to a recent blockhash and
// a fee payer. It accumulates signatures until every required signer has
// signed.
type Transaction struct {
	FeePayer        PublicKey
	RecentBlockhash Hash
	Instructions    []Instruction

	signatures map[PublicKey]Signature
	// message is set for decoded transactions. Signatures cover its exact
	// bytes, so it is reused instead of recompiling.
	message *Message
}

func NewTransaction(feePayer PublicKey, blockhash Hash, instructions ...Instruction) *Transaction {
	return &Transaction{
		FeePayer:        feePayer,
		RecentBlockhash: blockhash,
		Instructions:    instructions,
		signatures:      make(map[PublicKey]Signature),
	}
}

func (tx *Transaction) CompileMessage() (*Message, error) {
	if tx.message != nil {
		return tx.message, nil
	}

	ixs := make([]solana.Instruction, len(tx.Instructions))
	for i, ix := range tx.Instructions {
		ixs[i] = ix.generic()
	}

	compiled, err := solana.NewTransaction(ixs, tx.RecentBlockhash, solana.TransactionPayer(tx.FeePayer))
	if err != nil {
		return nil, err
	}
	return &compiled.Message, nil
}

func signersOf(msg *Message) []PublicKey {
	n := int(msg.Header.NumRequiredSignatures)
	if n > len(msg.AccountKeys) {
		n = len(msg.AccountKeys)
	}
	return msg.AccountKeys[:n]
}

// Signers returns the keys whose signatures the transaction needs, fee
// payer first.
func (tx *Transaction) Signers() ([]PublicKey, error) {
	msg, err := tx.CompileMessage()
	if err != nil {
		return nil, err
	}
	return signersOf(msg), nil
}

func (tx *Transaction) payload() (*Message, []byte, error) {
	msg, err := tx.CompileMessage()
	if err != nil {
		return nil, nil, err
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal message: %w", err)
	}
	return msg, b, nil
}

func (tx *Transaction) setSignature(pk PublicKey, sig Signature) {
	if tx.signatures == nil {
		tx.signatures = make(map[PublicKey]Signature)
	}
	tx.signatures[pk] = sig
}

func isSigner(msg *Message, pk PublicKey) bool {
	for _, s := range signersOf(msg) {
		if s == pk {
			return true
		}
	}
	return false
}

// PartialSign adds signatures from the given keypairs only. Each keypair
// must be a required signer.
func (tx *Transaction) PartialSign(signers ...*Keypair) error {
	msg, payload, err := tx.payload()
	if err != nil {
		return err
	}

	for _, kp := range signers {
		pk := kp.PublicKey()
		if !isSigner(msg, pk) {
			return fmt.Errorf("unknown signer: %s", pk)
		}
		sig, err := kp.Sign(payload)
		if err != nil {
			return fmt.Errorf("sign as %s: %w", pk, err)
		}
		tx.setSignature(pk, sig)
	}

	return nil
}

// AddSignature attaches a signature produced elsewhere, such as by the
// buyer's wallet.
func (tx *Transaction) AddSignature(pk PublicKey, sig Signature) error {
	msg, payload, err := tx.payload()
	if err != nil {
		return err
	}
	if !isSigner(msg, pk) {
		return fmt.Errorf("unknown signer: %s", pk)
	}
	if !sig.Verify(pk, payload) {
		return fmt.Errorf("signature verification failed for %s", pk)
	}
	tx.setSignature(pk, sig)
	return nil
}

func (tx *Transaction) Signature(pk PublicKey) (Signature, bool) {
	sig, ok := tx.signatures[pk]
	return sig, ok
}

// MissingSignatures lists required signers that have not signed yet.
func (tx *Transaction) MissingSignatures() ([]PublicKey, error) {
	signers, err := tx.Signers()
	if err != nil {
		return nil, err
	}

	var missing []PublicKey
	for _, pk := range signers {
		if _, ok := tx.signatures[pk]; !ok {
			missing = append(missing, pk)
		}
	}
	return missing, nil
}

// VerifySignatures checks every present signature against the message.
func (tx *Transaction) VerifySignatures() error {
	_, payload, err := tx.payload()
	if err != nil {
		return err
	}

	for pk, sig := range tx.signatures {
		if !sig.Verify(pk, payload) {
			return fmt.Errorf("invalid signature for %s", pk)
		}
	}
	return nil
}

// Wire returns the SDK form of the transaction with signature slots in
// signer order. Missing signatures are left zero unless
// requireAllSignatures is set.
func (tx *Transaction) Wire(requireAllSignatures bool) (*solana.Transaction, error) {
	msg, err := tx.CompileMessage()
	if err != nil {
		return nil, err
	}

	signers := signersOf(msg)
	out := &solana.Transaction{
		Signatures: make([]Signature, len(signers)),
		Message:    *msg,
	}
	for i, pk := range signers {
		sig, ok := tx.signatures[pk]
		if !ok && requireAllSignatures {
			return nil, fmt.Errorf("missing signature for %s", pk)
		}
		out.Signatures[i] = sig
	}
	return out, nil
}

// Serialize encodes the transaction in wire format and enforces the packet
// size limit.
func (tx *Transaction) Serialize(requireAllSignatures bool) ([]byte, error) {
	wire, err := tx.Wire(requireAllSignatures)
	if err != nil {
		return nil, err
	}

	buf, err := wire.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}
	if len(buf) > MaxTransactionSize {
		return nil, fmt.Errorf("transaction too large: %d > %d", len(buf), MaxTransactionSize)
	}
	return buf, nil
}

// Deserialize parses wire format bytes. All-zero signature slots are treated
// as not yet signed.
func Deserialize(b []byte) (*Transaction, error) {
	wire, err := solana.TransactionFromDecoder(bin.NewBinDecoder(b))
	if err != nil {
		return nil, err
	}

	msg := &wire.Message
	numSigs := int(msg.Header.NumRequiredSignatures)
	if numSigs == 0 {
		return nil, fmt.Errorf("transaction has no fee payer")
	}
	if len(wire.Signatures) != numSigs || len(msg.AccountKeys) < numSigs {
		return nil, fmt.Errorf("expected %d signatures, got %d", numSigs, len(wire.Signatures))
	}

	again, err := wire.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(again, b) {
		return nil, fmt.Errorf("non-canonical encoding or trailing bytes")
	}

	instructions, err := decompile(msg)
	if err != nil {
		return nil, err
	}

	tx := NewTransaction(msg.AccountKeys[0], msg.RecentBlockhash, instructions...)
	tx.message = msg
	for i, sig := range wire.Signatures {
		if sig == (Signature{}) {
			continue
		}
		tx.signatures[msg.AccountKeys[i]] = sig
	}
	return tx, nil
}

// decompile expands compiled instructions back into account metas using the
// header's signer and read-only ranges.
func decompile(msg *Message) ([]Instruction, error) {
	keys := msg.AccountKeys
	h := msg.Header
	signers := int(h.NumRequiredSignatures)
	writableSigners := signers - int(h.NumReadonlySignedAccounts)
	writableUnsigned := len(keys) - signers - int(h.NumReadonlyUnsignedAccounts)
	if writableSigners < 0 || writableUnsigned < 0 {
		return nil, fmt.Errorf("inconsistent message header")
	}

	meta := func(i uint16) (*AccountMeta, error) {
		idx := int(i)
		if idx >= len(keys) {
			return nil, fmt.Errorf("account index %d out of range", idx)
		}
		m := &AccountMeta{PublicKey: keys[idx]}
		if idx < signers {
			m.IsSigner = true
			m.IsWritable = idx < writableSigners
		} else {
			m.IsWritable = idx-signers < writableUnsigned
		}
		return m, nil
	}

	out := make([]Instruction, 0, len(msg.Instructions))
	for _, ci := range msg.Instructions {
		program, err := meta(ci.ProgramIDIndex)
		if err != nil {
			return nil, err
		}

		ix := Instruction{
			ProgramID: program.PublicKey,
			Accounts:  make([]*AccountMeta, 0, len(ci.Accounts)),
			Data:      append([]byte(nil), ci.Data...),
		}
		for _, a := range ci.Accounts {
			m, err := meta(a)
			if err != nil {
				return nil, err
			}
			ix.Accounts = append(ix.Accounts, m)
		}
		out = append(out, ix)
	}
	return out, nil
}
