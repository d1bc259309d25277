package bitcoin_test

import (
	"testing"

	"github.com/SafeMPC/chainsig/internal/mpc/chain/bitcoin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateVSize(t *testing.T) {
	assert.Equal(t, int64(11+68+31), bitcoin.EstimateVSize(1, 1))
	assert.Equal(t, int64(11+3*68+2*31), bitcoin.EstimateVSize(3, 2))
}

func TestSelectCoins(t *testing.T) {
	outputs := []bitcoin.Output{{Address: "dest", Value: 50_000}}

	tests := []struct {
		name        string
		utxos       []bitcoin.UTXO
		feeRate     int64
		wantInputs  int
		wantOutputs int
		wantFee     int64
		wantErr     error
	}{
		{
			name:        "single input with change",
			utxos:       []bitcoin.UTXO{{TxID: "a", Value: 100_000}},
			feeRate:     10,
			wantInputs:  1,
			wantOutputs: 2,
			// 11 + 68 + 2*31 = 141 vB
			wantFee: 1410,
		},
		{
			name:        "accumulates until covered",
			utxos:       []bitcoin.UTXO{{TxID: "a", Value: 30_000}, {TxID: "b", Value: 30_000}, {TxID: "c", Value: 30_000}},
			feeRate:     2,
			wantInputs:  2,
			wantOutputs: 2,
			// 11 + 2*68 + 2*31 = 209 vB
			wantFee: 418,
		},
		{
			name:        "dust change folded into fee",
			utxos:       []bitcoin.UTXO{{TxID: "a", Value: 50_600}},
			feeRate:     1,
			wantInputs:  1,
			wantOutputs: 1,
			wantFee:     600,
		},
		{
			name:        "skips uneconomic utxos",
			utxos:       []bitcoin.UTXO{{TxID: "dust", Value: 600}, {TxID: "a", Value: 100_000}},
			feeRate:     10,
			wantInputs:  1,
			wantOutputs: 2,
			wantFee:     1410,
		},
		{
			name:    "insufficient funds",
			utxos:   []bitcoin.UTXO{{TxID: "a", Value: 40_000}},
			feeRate: 1,
			wantErr: bitcoin.ErrInsufficientFunds,
		},
		{
			name:    "no utxos",
			feeRate: 1,
			wantErr: bitcoin.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selection, err := bitcoin.SelectCoins(tt.utxos, outputs, tt.feeRate, "change")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Len(t, selection.Inputs, tt.wantInputs)
			assert.Len(t, selection.Outputs, tt.wantOutputs)
			assert.Equal(t, tt.wantFee, selection.Fee)

			var in, out int64
			for _, u := range selection.Inputs {
				in += u.Value
			}
			for _, o := range selection.Outputs {
				out += o.Value
			}
			assert.Equal(t, in, out+selection.Fee, "inputs must balance outputs plus fee")

			if tt.wantOutputs == 2 {
				assert.Equal(t, "change", selection.Outputs[1].Address)
				assert.GreaterOrEqual(t, selection.Outputs[1].Value, bitcoin.DustThreshold)
			}
		})
	}
}

func TestSelectCoinsValidation(t *testing.T) {
	utxos := []bitcoin.UTXO{{TxID: "a", Value: 100_000}}

	_, err := bitcoin.SelectCoins(utxos, nil, 1, "change")
	assert.Error(t, err)

	_, err = bitcoin.SelectCoins(utxos, []bitcoin.Output{{Address: "d", Value: 1000}}, 0, "change")
	assert.Error(t, err)

	_, err = bitcoin.SelectCoins(utxos, []bitcoin.Output{{Address: "d", Value: -1}}, 1, "change")
	assert.Error(t, err)

	_, err = bitcoin.SelectCoins(utxos, []bitcoin.Output{{Address: "d", Value: 1000}}, 1, "")
	assert.Error(t, err, "change output needs an address")
}
