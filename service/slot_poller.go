package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/clientcontroller"
	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/verifier"
)

var (
	RtyAttNum = uint(5)
	RtyAtt    = retry.Attempts(RtyAttNum)
	RtyDel    = retry.Delay(time.Millisecond * 400)
	RtyErr    = retry.LastErrorOnly(true)
)

const (
	maxFailedCycles     = 20
	commitmentCacheSize = 256
)

var ErrNoFinalizedSlot = errors.New("no finalized slot observed yet")

// SlotPoller follows the finalized slot of the source ledger and serves it to
// the verification engine together with the commitments of finalized blocks.
type SlotPoller struct {
	isStarted *atomic.Bool
	wg        sync.WaitGroup
	quit      chan struct{}

	ledger clientcontroller.SourceLedger
	cfg    *config.SourceConfig

	finalized    *atomic.Uint64
	hasFinalized *atomic.Bool
	commitments  *lru.Cache[uint64, *types.BlockCommitment]

	metrics *metrics.BridgeMetrics
	logger  *zap.Logger
}

var _ verifier.SlotProvider = (*SlotPoller)(nil)

func NewSlotPoller(
	logger *zap.Logger,
	cfg *config.SourceConfig,
	ledger clientcontroller.SourceLedger,
	metrics *metrics.BridgeMetrics,
) (*SlotPoller, error) {
	cache, err := lru.New[uint64, *types.BlockCommitment](commitmentCacheSize)
	if err != nil {
		return nil, err
	}
	return &SlotPoller{
		isStarted:    atomic.NewBool(false),
		quit:         make(chan struct{}),
		ledger:       ledger,
		cfg:          cfg,
		finalized:    atomic.NewUint64(0),
		hasFinalized: atomic.NewBool(false),
		commitments:  cache,
		metrics:      metrics,
		logger:       logger,
	}, nil
}

// Start polls once before returning, so that a started poller serves a slot
// whenever the ledger is reachable.
func (sp *SlotPoller) Start() error {
	if sp.isStarted.Swap(true) {
		return fmt.Errorf("the slot poller is already started")
	}

	sp.logger.Info("starting the slot poller")

	if err := sp.poll(); err != nil {
		sp.logger.Warn("failed to get the initial finalized slot", zap.Error(err))
	}

	sp.wg.Add(1)
	go sp.pollLoop()

	sp.logger.Info("the slot poller is successfully started")

	return nil
}

func (sp *SlotPoller) Stop() error {
	if !sp.isStarted.Swap(false) {
		return fmt.Errorf("the slot poller has already stopped")
	}

	sp.logger.Info("stopping the slot poller")
	close(sp.quit)
	sp.wg.Wait()
	sp.logger.Info("the slot poller is successfully stopped")

	return nil
}

func (sp *SlotPoller) IsRunning() bool {
	return sp.isStarted.Load()
}

// CurrentSlot returns the latest finalized slot seen by the poller.
func (sp *SlotPoller) CurrentSlot(_ context.Context) (uint64, error) {
	if !sp.hasFinalized.Load() {
		return 0, types.Expected(ErrNoFinalizedSlot)
	}
	return sp.finalized.Load(), nil
}

// Commitment returns the commitment of a finalized slot. Slots past the
// finalized tip are never served.
func (sp *SlotPoller) Commitment(ctx context.Context, slot uint64) (*types.BlockCommitment, error) {
	current, err := sp.CurrentSlot(ctx)
	if err != nil {
		return nil, err
	}
	if slot > current {
		return nil, types.Expected(fmt.Errorf("%w: slot %d is past the finalized slot %d",
			types.ErrCommitmentUnavailable, slot, current))
	}

	if c, ok := sp.commitments.Get(slot); ok {
		return c, nil
	}
	c, err := sp.ledger.GetCommitment(ctx, slot)
	if err != nil {
		return nil, err
	}
	sp.commitments.Add(slot, c)
	return c, nil
}

func (sp *SlotPoller) finalizedSlotWithRetry() (uint64, error) {
	var slot uint64
	err := retry.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sp.cfg.Timeout)
		defer cancel()

		s, err := sp.ledger.FinalizedSlot(ctx)
		if err != nil {
			return err
		}
		slot = s
		return nil
	}, RtyAtt, RtyDel, RtyErr, retry.OnRetry(func(n uint, err error) {
		sp.logger.Debug(
			"failed to query the source ledger for the finalized slot",
			zap.Uint("attempt", n+1),
			zap.Uint("max_attempts", RtyAttNum),
			zap.Error(err),
		)
	}))
	return slot, err
}

func (sp *SlotPoller) poll() error {
	slot, err := sp.finalizedSlotWithRetry()
	if err != nil {
		return err
	}
	sp.metrics.RecordLastPolledSlot(slot)

	// the finalized slot never moves backwards
	if sp.hasFinalized.Load() && slot < sp.finalized.Load() {
		sp.logger.Warn("the source ledger reported an older finalized slot",
			zap.Uint64("reported", slot),
			zap.Uint64("current", sp.finalized.Load()),
		)
		return nil
	}

	sp.finalized.Store(slot)
	sp.hasFinalized.Store(true)
	sp.metrics.RecordSourceFinalizedSlot(slot)
	sp.logger.Debug("polled the finalized slot", zap.Uint64("slot", slot))

	return nil
}

func (sp *SlotPoller) pollLoop() {
	defer sp.wg.Done()

	var failedCycles uint32

	for {
		select {
		case <-time.After(sp.cfg.PollInterval):
		case <-sp.quit:
			return
		}

		if err := sp.poll(); err != nil {
			failedCycles++
			sp.logger.Debug(
				"failed to poll the finalized slot",
				zap.Uint32("current_failures", failedCycles),
				zap.Error(err),
			)
			if failedCycles == maxFailedCycles {
				sp.logger.Error("the slot poller reached the max failed cycles, the finalized slot is stale",
					zap.Uint64("slot", sp.finalized.Load()))
			}
			continue
		}
		failedCycles = 0
	}
}
