package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

// Caller performs eth_call. chain.Client satisfies it, as does the
// simulated fixture reader.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error)
}

// DecodeContext provides shared dependencies for decoders.
type DecodeContext struct {
	Context context.Context
	Caller  Caller
	Logger  *zap.Logger
	// IncludeLiveState reads the keeper debt at the event block. It needs an
	// archive node for historical blocks.
	IncludeLiveState bool
}
