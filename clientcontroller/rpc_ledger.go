package clientcontroller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/types"
)

const (
	// RPCNamespace is the JSON-RPC namespace the ledger methods live under.
	RPCNamespace = "bridge"

	burnNotFoundCode          = -39001
	commitmentUnavailableCode = -39002
	unknownAssetCode          = -39003
)

type RPCBurn struct {
	Raw  hexutil.Bytes  `json:"raw"`
	Slot hexutil.Uint64 `json:"slot"`
}

type RPCCommitment struct {
	Slot      hexutil.Uint64 `json:"slot"`
	BlockHash types.Hash     `json:"blockHash"`
	StateRoot types.Hash     `json:"stateRoot"`
}

// RPCSourceLedger reads the source ledger over JSON-RPC.
type RPCSourceLedger struct {
	client  *rpc.Client
	timeout time.Duration
	logger  *zap.Logger
}

var _ SourceLedger = (*RPCSourceLedger)(nil)

func NewRPCSourceLedger(ctx context.Context, cfg *config.SourceConfig, logger *zap.Logger) (*RPCSourceLedger, error) {
	client, err := rpc.DialContext(ctx, cfg.RPCAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial the source ledger at %s: %w", cfg.RPCAddr, err)
	}

	return NewRPCSourceLedgerWithClient(client, cfg.Timeout, logger), nil
}

func NewRPCSourceLedgerWithClient(client *rpc.Client, timeout time.Duration, logger *zap.Logger) *RPCSourceLedger {
	return &RPCSourceLedger{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

func (l *RPCSourceLedger) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return retry.Do(func() error {
		cctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		err := l.client.CallContext(cctx, result, RPCNamespace+"_"+method, args...)
		return fromRPCError(err)
	},
		retry.Context(ctx),
		RtyAtt,
		RtyDel,
		RtyErr,
		retry.RetryIf(func(err error) bool {
			return !IsUnrecoverable(err) && !errors.Is(err, types.ErrCommitmentUnavailable)
		}),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Debug(
				"failed to query the source ledger",
				zap.String("method", method),
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", RtyAttNum),
				zap.Error(err),
			)
		}))
}

func (l *RPCSourceLedger) FinalizedSlot(ctx context.Context) (uint64, error) {
	var slot hexutil.Uint64
	if err := l.call(ctx, &slot, "finalizedSlot"); err != nil {
		return 0, err
	}
	return uint64(slot), nil
}

func (l *RPCSourceLedger) GetBurn(ctx context.Context, nonce uint64) (*BurnEntry, error) {
	var res RPCBurn
	if err := l.call(ctx, &res, "getBurn", hexutil.Uint64(nonce)); err != nil {
		return nil, err
	}
	return &BurnEntry{Raw: res.Raw, Slot: uint64(res.Slot)}, nil
}

func (l *RPCSourceLedger) GetCommitment(ctx context.Context, slot uint64) (*types.BlockCommitment, error) {
	var res RPCCommitment
	if err := l.call(ctx, &res, "getCommitment", hexutil.Uint64(slot)); err != nil {
		return nil, err
	}
	if uint64(res.Slot) != slot {
		return nil, fmt.Errorf("source ledger returned the commitment of slot %d, requested %d", res.Slot, slot)
	}
	return &types.BlockCommitment{
		Slot:      uint64(res.Slot),
		BlockHash: res.BlockHash,
		StateRoot: res.StateRoot,
	}, nil
}

func (l *RPCSourceLedger) GetStateLeaves(ctx context.Context, slot uint64) ([]types.Hash, error) {
	var leaves []types.Hash
	if err := l.call(ctx, &leaves, "getStateLeaves", hexutil.Uint64(slot)); err != nil {
		return nil, err
	}
	return leaves, nil
}

func (l *RPCSourceLedger) Close() error {
	l.client.Close()
	return nil
}

// codedError carries a ledger error across the wire with a code the client
// maps back to the sentinel.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string  { return e.err.Error() }
func (e *codedError) ErrorCode() int { return e.code }

func toRPCError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrBurnNotFound):
		return &codedError{code: burnNotFoundCode, err: err}
	case errors.Is(err, types.ErrCommitmentUnavailable):
		return &codedError{code: commitmentUnavailableCode, err: err}
	case errors.Is(err, types.ErrUnknownAsset):
		return &codedError{code: unknownAssetCode, err: err}
	default:
		return err
	}
}

func fromRPCError(err error) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.ErrorCode() {
	case burnNotFoundCode:
		return fmt.Errorf("%w: %s", types.ErrBurnNotFound, rpcErr.Error())
	case commitmentUnavailableCode:
		return fmt.Errorf("%w: %s", types.ErrCommitmentUnavailable, rpcErr.Error())
	case unknownAssetCode:
		return fmt.Errorf("%w: %s", types.ErrUnknownAsset, rpcErr.Error())
	default:
		return err
	}
}

// LedgerService exposes a SourceLedger as the JSON-RPC service that
// RPCSourceLedger talks to.
type LedgerService struct {
	ledger SourceLedger
}

func NewLedgerServer(ledger SourceLedger) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(RPCNamespace, &LedgerService{ledger: ledger}); err != nil {
		return nil, err
	}
	return srv, nil
}

func (s *LedgerService) FinalizedSlot(ctx context.Context) (hexutil.Uint64, error) {
	slot, err := s.ledger.FinalizedSlot(ctx)
	return hexutil.Uint64(slot), toRPCError(err)
}

func (s *LedgerService) GetBurn(ctx context.Context, nonce hexutil.Uint64) (*RPCBurn, error) {
	b, err := s.ledger.GetBurn(ctx, uint64(nonce))
	if err != nil {
		return nil, toRPCError(err)
	}
	return &RPCBurn{Raw: b.Raw, Slot: hexutil.Uint64(b.Slot)}, nil
}

func (s *LedgerService) GetCommitment(ctx context.Context, slot hexutil.Uint64) (*RPCCommitment, error) {
	c, err := s.ledger.GetCommitment(ctx, uint64(slot))
	if err != nil {
		return nil, toRPCError(err)
	}
	return &RPCCommitment{
		Slot:      hexutil.Uint64(c.Slot),
		BlockHash: c.BlockHash,
		StateRoot: c.StateRoot,
	}, nil
}

func (s *LedgerService) GetStateLeaves(ctx context.Context, slot hexutil.Uint64) ([]types.Hash, error) {
	leaves, err := s.ledger.GetStateLeaves(ctx, uint64(slot))
	return leaves, toRPCError(err)
}
