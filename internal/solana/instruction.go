package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Instruction is a single program call. Unlike the SDK's builders it stays a
// plain value, so the checkout flow can inspect and extend it before the
// transaction is compiled.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []*AccountMeta
	Data      []byte
}

// WithAccounts returns a copy of ix with extra metas appended. Programs
// ignore trailing accounts they do not expect, which is what lets a
// reference key ride along with a transfer.
func (ix Instruction) WithAccounts(metas ...*AccountMeta) Instruction {
	accounts := make([]*AccountMeta, 0, len(ix.Accounts)+len(metas))
	accounts = append(accounts, ix.Accounts...)
	accounts = append(accounts, metas...)
	ix.Accounts = accounts
	return ix
}

// generic hands the instruction to the SDK compiler. Metas are copied since
// the compiler merges flags into the slice it receives.
func (ix Instruction) generic() solana.Instruction {
	metas := make(solana.AccountMetaSlice, len(ix.Accounts))
	for i, m := range ix.Accounts {
		cp := *m
		metas[i] = &cp
	}
	return solana.NewInstruction(ix.ProgramID, metas, ix.Data)
}

const (
	transferCheckedDataSize        = 10
	ataInstructionCreateIdempotent = 1
)

// NewTransferCheckedInstruction moves amount base units of mint from source
// to destination. owner must sign.
func NewTransferCheckedInstruction(source, mint, destination, owner PublicKey,
	amount uint64, decimals uint8) (Instruction, error) {

	built, err := token.NewTransferCheckedInstruction(amount, decimals,
		source, mint, destination, owner, nil).ValidateAndBuild()
	if err != nil {
		return Instruction{}, fmt.Errorf("transfer checked: %w", err)
	}

	data, err := built.Data()
	if err != nil {
		return Instruction{}, fmt.Errorf("encode transfer checked: %w", err)
	}

	return Instruction{
		ProgramID: built.ProgramID(),
		Accounts:  built.Accounts(),
		Data:      data,
	}, nil
}

type TransferChecked struct {
	Source      PublicKey
	Mint        PublicKey
	Destination PublicKey
	Owner       PublicKey
	Amount      uint64
	Decimals    uint8
	// Extra holds trailing accounts such as a payment reference.
	Extra []*AccountMeta
}

func DecodeTransferChecked(ix Instruction) (*TransferChecked, error) {
	if ix.ProgramID != TokenProgramID {
		return nil, fmt.Errorf("not a token program instruction")
	}
	if len(ix.Accounts) < 4 {
		return nil, fmt.Errorf("transfer checked needs 4 accounts, got %d", len(ix.Accounts))
	}
	if len(ix.Data) != transferCheckedDataSize {
		return nil, fmt.Errorf("not a transfer checked instruction")
	}

	decoded, err := token.DecodeInstruction(ix.Accounts, ix.Data)
	if err != nil {
		return nil, fmt.Errorf("decode token instruction: %w", err)
	}
	tc, ok := decoded.Impl.(*token.TransferChecked)
	if !ok || tc.Amount == nil || tc.Decimals == nil {
		return nil, fmt.Errorf("not a transfer checked instruction")
	}

	return &TransferChecked{
		Source:      tc.GetSourceAccount().PublicKey,
		Mint:        tc.GetMintAccount().PublicKey,
		Destination: tc.GetDestinationAccount().PublicKey,
		Owner:       tc.GetOwnerAccount().PublicKey,
		Amount:      *tc.Amount,
		Decimals:    *tc.Decimals,
		Extra:       ix.Accounts[4:],
	}, nil
}

// NewCreateAssociatedTokenAccountIdempotentInstruction creates owner's
// holding account for mint, paid by payer. It succeeds if the account
// already exists.
func NewCreateAssociatedTokenAccountIdempotentInstruction(payer, owner,
	mint PublicKey) (Instruction, PublicKey, error) {

	ata, err := FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return Instruction{}, PublicKey{}, err
	}

	return Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []*AccountMeta{
			Meta(payer).SIGNER().WRITE(),
			Meta(ata).WRITE(),
			Meta(owner),
			Meta(mint),
			Meta(SystemProgramID),
			Meta(TokenProgramID),
		},
		Data: []byte{ataInstructionCreateIdempotent},
	}, ata, nil
}

func IsCreateAssociatedTokenAccount(ix Instruction) bool {
	return ix.ProgramID == AssociatedTokenProgramID && len(ix.Accounts) >= 6 &&
		(len(ix.Data) == 0 || ix.Data[0] <= ataInstructionCreateIdempotent)
}
