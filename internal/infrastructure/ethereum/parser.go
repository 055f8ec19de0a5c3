package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransferEventSignature is the keccak256 hash of Transfer(address,address,uint256)
var TransferEventSignature = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// TransferLog is a decoded ERC-20 Transfer event
type TransferLog struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
	LogIndex uint
}

// ParseTransferEvent parses a raw log into a TransferLog
func ParseTransferEvent(log types.Log) (*TransferLog, error) {
	// Validate log has correct topic structure
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("invalid number of topics: expected 3, got %d", len(log.Topics))
	}

	// Verify this is a Transfer event
	if log.Topics[0] != TransferEventSignature {
		return nil, fmt.Errorf("not a Transfer event")
	}

	// Topics[1] = from, Topics[2] = to, both padded to 32 bytes
	from := common.BytesToAddress(log.Topics[1].Bytes())
	to := common.BytesToAddress(log.Topics[2].Bytes())

	if len(log.Data) != 32 {
		return nil, fmt.Errorf("invalid data length: expected 32, got %d", len(log.Data))
	}

	return &TransferLog{
		Token:    log.Address,
		From:     from,
		To:       to,
		Value:    new(big.Int).SetBytes(log.Data),
		LogIndex: log.Index,
	}, nil
}

// IsTransferEvent checks if a log is a Transfer event
func IsTransferEvent(log types.Log) bool {
	return len(log.Topics) == 3 && log.Topics[0] == TransferEventSignature
}

// ReceivedAmount sums the Transfer events of token credited to recipient
// in a receipt. Logs that fail to parse are skipped.
func ReceivedAmount(receipt *types.Receipt, token, recipient common.Address) *big.Int {
	total := new(big.Int)
	if receipt == nil {
		return total
	}

	for _, log := range receipt.Logs {
		if log == nil || log.Address != token || !IsTransferEvent(*log) {
			continue
		}
		transfer, err := ParseTransferEvent(*log)
		if err != nil || transfer.To != recipient {
			continue
		}
		total.Add(total, transfer.Value)
	}

	return total
}
