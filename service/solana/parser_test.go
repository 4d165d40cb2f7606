package solana

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a TransactionResultEnvelope from a Transaction.
// Since TransactionResultEnvelope has unexported fields, we use JSON marshaling.
func makeTransactionEnvelope(tx *solana.Transaction) (*rpc.TransactionResultEnvelope, error) {
	txJSON, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON

	envelopeJSON, err := json.Marshal(temp)
	if err != nil {
		return nil, err
	}

	var result rpc.GetTransactionResult
	if err := json.Unmarshal(envelopeJSON, &result); err != nil {
		return nil, err
	}

	return result.Transaction, nil
}

func testKey(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = b
	pk[31] = 0xAA
	return pk
}

func testSig(b byte) solana.Signature {
	var s solana.Signature
	s[0] = b
	s[63] = 0x55
	return s
}

func TestParseTransactionResult_ResolvesAccounts(t *testing.T) {
	payer := testKey(1)
	vault := testKey(2)
	program := testKey(3)
	other := testKey(4)
	loadedW := testKey(5)
	loadedR := testKey(6)

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{payer, vault, program, other},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 3, Accounts: []uint16{0}, Data: []byte{9}},
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1, 4, 5}, Data: []byte{1, 2, 3}},
			},
		},
	}
	envelope, err := makeTransactionEnvelope(tx)
	require.NoError(t, err)

	now := solana.UnixTimeSeconds(time.Now().Unix())
	result := &rpc.GetTransactionResult{
		Slot:        321,
		BlockTime:   &now,
		Transaction: envelope,
		Meta: &rpc.TransactionMeta{
			LogMessages: []string{"Program log: hi"},
			LoadedAddresses: rpc.LoadedAddresses{
				Writable: solana.PublicKeySlice{loadedW},
				ReadOnly: solana.PublicKeySlice{loadedR},
			},
		},
	}

	sig := testSig(7)
	txn, err := parseTransactionResult(sig, result)
	require.NoError(t, err)

	assert.Equal(t, sig, txn.Signature)
	assert.Equal(t, uint64(321), txn.Slot)
	require.NotNil(t, txn.BlockTime)
	assert.Equal(t, now.Time(), *txn.BlockTime)
	assert.False(t, txn.Failed())
	assert.Equal(t, []string{"Program log: hi"}, txn.LogMessages)

	require.Len(t, txn.Instructions, 2)
	assert.Equal(t, other, txn.Instructions[0].ProgramID)
	assert.Equal(t, program, txn.Instructions[1].ProgramID)
	assert.Equal(t, []solana.PublicKey{payer, vault, loadedW, loadedR}, txn.Instructions[1].Accounts)
	assert.Equal(t, []byte{1, 2, 3}, txn.Instructions[1].Data)
}

func TestParseTransactionResult_FailedMeta(t *testing.T) {
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{testKey(1), testKey(2)},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{0}},
			},
		},
	}
	envelope, err := makeTransactionEnvelope(tx)
	require.NoError(t, err)

	result := &rpc.GetTransactionResult{
		Transaction: envelope,
		Meta: &rpc.TransactionMeta{
			Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom error"}},
		},
	}

	txn, err := parseTransactionResult(testSig(1), result)
	require.NoError(t, err)
	assert.True(t, txn.Failed())
	assert.Nil(t, txn.BlockTime)
}

func TestParseTransactionResult_IndexOutOfRange(t *testing.T) {
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{testKey(1), testKey(2)},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{0, 9}},
			},
		},
	}
	envelope, err := makeTransactionEnvelope(tx)
	require.NoError(t, err)

	_, err = parseTransactionResult(testSig(1), &rpc.GetTransactionResult{Transaction: envelope})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestParseTransactionResult_Empty(t *testing.T) {
	_, err := parseTransactionResult(testSig(1), &rpc.GetTransactionResult{})
	assert.Error(t, err)

	_, err = parseTransactionResult(testSig(1), nil)
	assert.Error(t, err)
}

func TestSignatureToInfo(t *testing.T) {
	now := solana.UnixTimeSeconds(1700000000)
	info := signatureToInfo(&rpc.TransactionSignature{
		Signature: testSig(3),
		Slot:      99,
		BlockTime: &now,
		Err:       "boom",
	})
	assert.Equal(t, testSig(3), info.Signature)
	assert.Equal(t, uint64(99), info.Slot)
	require.NotNil(t, info.BlockTime)
	assert.Equal(t, int64(1700000000), info.BlockTime.Unix())
	assert.True(t, info.Failed())

	info = signatureToInfo(&rpc.TransactionSignature{Signature: testSig(4)})
	assert.Nil(t, info.BlockTime)
	assert.False(t, info.Failed())
}
