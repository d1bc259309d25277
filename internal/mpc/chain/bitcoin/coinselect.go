package bitcoin

import (
	"github.com/pkg/errors"
)

// P2WPKH 交易的虚拟字节估算
const (
	txOverheadVBytes = 11
	inputVBytes      = 68
	outputVBytes     = 31

	// DustThreshold 低于该值的找零并入手续费
	DustThreshold int64 = 546
)

// ErrInsufficientFunds UTXO 不足以覆盖输出和手续费
var ErrInsufficientFunds = errors.New("insufficient funds")

// Selection 选币结果
type Selection struct {
	Inputs  []UTXO
	Outputs []Output
	Fee     int64
}

// EstimateVSize 估算 P2WPKH 交易虚拟大小
func EstimateVSize(inputs, outputs int) int64 {
	return int64(txOverheadVBytes + inputs*inputVBytes + outputs*outputVBytes)
}

// SelectCoins 按顺序累加 UTXO 直到覆盖输出与手续费；找零超过粉尘阈值时追加找零输出
func SelectCoins(utxos []UTXO, outputs []Output, feeRate int64, changeAddress string) (*Selection, error) {
	if len(outputs) == 0 {
		return nil, errors.New("at least one output is required")
	}
	if feeRate <= 0 {
		return nil, errors.Errorf("invalid fee rate %d", feeRate)
	}

	var target int64
	for _, out := range outputs {
		if out.Value <= 0 {
			return nil, errors.Errorf("invalid output value %d", out.Value)
		}
		target += out.Value
	}

	var (
		selected []UTXO
		total    int64
		fee      int64
	)
	for _, utxo := range utxos {
		// 自身价值不足以支付输入手续费的 UTXO 只会增加成本
		if utxo.Value <= feeRate*inputVBytes {
			continue
		}
		selected = append(selected, utxo)
		total += utxo.Value
		fee = feeRate * EstimateVSize(len(selected), len(outputs))
		if total >= target+fee {
			break
		}
	}

	if len(selected) == 0 || total < target+fee {
		return nil, errors.Wrapf(ErrInsufficientFunds, "have %d sats, need %d", total, target+fee)
	}

	result := &Selection{
		Inputs:  selected,
		Outputs: append([]Output(nil), outputs...),
		Fee:     fee,
	}

	changeFee := feeRate * outputVBytes
	change := total - target - fee - changeFee
	if change >= DustThreshold {
		if changeAddress == "" {
			return nil, errors.New("change address is required")
		}
		result.Outputs = append(result.Outputs, Output{Address: changeAddress, Value: change})
		result.Fee += changeFee
	} else {
		result.Fee = total - target
	}

	return result, nil
}
