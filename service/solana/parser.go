package solana

import (
	"fmt"

	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// signatureToInfo converts an RPC TransactionSignature to the ledger model.
func signatureToInfo(sig *rpc.TransactionSignature) ledger.SignatureInfo {
	info := ledger.SignatureInfo{
		Signature: sig.Signature,
		Slot:      sig.Slot,
		Err:       sig.Err,
	}
	if sig.BlockTime != nil {
		t := sig.BlockTime.Time()
		info.BlockTime = &t
	}
	return info
}

// parseTransactionResult converts a GetTransactionResult into the ledger model,
// resolving instruction account indexes against the static keys followed by the
// writable and read-only addresses loaded from lookup tables.
func parseTransactionResult(signature solana.Signature, result *rpc.GetTransactionResult) (*ledger.Transaction, error) {
	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("empty transaction result for %s", signature)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	txn := &ledger.Transaction{
		Signature: signature,
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		t := result.BlockTime.Time()
		txn.BlockTime = &t
	}

	keys := append(solana.PublicKeySlice{}, tx.Message.AccountKeys...)
	if result.Meta != nil {
		txn.Err = result.Meta.Err
		txn.LogMessages = result.Meta.LogMessages
		keys = append(keys, result.Meta.LoadedAddresses.Writable...)
		keys = append(keys, result.Meta.LoadedAddresses.ReadOnly...)
	}

	txn.Instructions = make([]ledger.Instruction, 0, len(tx.Message.Instructions))
	for i, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("instruction %d: program index %d out of range (%d keys)", i, inst.ProgramIDIndex, len(keys))
		}
		accounts := make([]solana.PublicKey, len(inst.Accounts))
		for j, idx := range inst.Accounts {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("instruction %d: account index %d out of range (%d keys)", i, idx, len(keys))
			}
			accounts[j] = keys[idx]
		}
		txn.Instructions = append(txn.Instructions, ledger.Instruction{
			ProgramID: keys[inst.ProgramIDIndex],
			Accounts:  accounts,
			Data:      []byte(inst.Data),
		})
	}

	return txn, nil
}

