package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
)

const maxResponseSize = 1 << 16

const (
	outcomeValid            = "valid"
	outcomeFailed           = "failed"
	outcomeMalformed        = "malformed"
	outcomeWrongAsset       = "wrong_asset"
	outcomeNotMember        = "not_member"
	outcomeInvalidSignature = "invalid_signature"
	outcomeDuplicate        = "duplicate"
	outcomeNoEndpoint       = "no_endpoint"
	outcomeWrongValidator   = "wrong_validator"
)

var errRequestRejected = errors.New("validator rejected the request")

// Claim is what validators are asked to attest.
type Claim struct {
	AssetID types.AssetID
	Request types.AttestationRequest
}

// Collection is the outcome of one collection round.
type Collection struct {
	Votes     []types.ValidatorVote
	Stake     uint64
	Responded int
	Discarded int
}

type result struct {
	target   types.PublicKey
	endpoint string
	resp     *types.AttestationResponse
	err      error
}

// Collector queries validator nodes in parallel for attestations.
type Collector struct {
	cfg       *config.CollectorConfig
	endpoints map[types.PublicKey]string
	client    *http.Client

	// calls still running after their round returned
	inflight atomic.Int64
	wg       sync.WaitGroup

	metrics *metrics.BridgeMetrics
	logger  *zap.Logger
}

func New(cfg *config.CollectorConfig, metrics *metrics.BridgeMetrics, logger *zap.Logger) (*Collector, error) {
	endpoints, err := cfg.ValidatorEndpoints()
	if err != nil {
		return nil, err
	}
	return &Collector{
		cfg:       cfg,
		endpoints: endpoints,
		client:    &http.Client{},
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Collect asks every member of set to attest the claim and returns as soon as
// the distinct valid votes meet the threshold of set. Members without a known
// endpoint count as failed. It never waits longer than
// the batch timeout; calls still running when it returns are left to finish
// and their results are dropped.
func (c *Collector) Collect(ctx context.Context, set *valset.Snapshot, claim *Claim) (*Collection, error) {
	if err := claim.Request.Validate(); err != nil {
		return nil, err
	}
	if claim.Request.ValidatorSetVersion != set.Version {
		return nil, fmt.Errorf("%w: request binds version %d, set is %d",
			types.ErrStaleValidatorSetVersion, claim.Request.ValidatorSetVersion, set.Version)
	}

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveCollectorBatch(time.Since(start))
		}
	}()

	body, err := json.Marshal(&claim.Request)
	if err != nil {
		return nil, err
	}

	members := set.Members()
	col := &Collection{}

	// buffered so that calls finishing after the round never block
	results := make(chan result, len(members))
	queried := 0
	for _, m := range members {
		endpoint, ok := c.endpoints[m.Identity]
		if !ok {
			c.logger.Warn("no endpoint for validator in the active set",
				zap.Stringer("validator", m.Identity),
				zap.Uint64("version", set.Version),
			)
			c.recordResponse(outcomeNoEndpoint)
			col.Discarded++
			continue
		}
		queried++
		c.wg.Add(1)
		c.inflight.Inc()
		go func(target types.PublicKey, endpoint string) {
			defer c.wg.Done()
			defer c.inflight.Dec()
			resp, err := c.attest(ctx, endpoint, body)
			results <- result{target: target, endpoint: endpoint, resp: resp, err: err}
		}(m.Identity, endpoint)
	}

	batchTimer := time.NewTimer(c.cfg.BatchTimeout)
	defer batchTimer.Stop()

	seen := make(map[types.PublicKey]struct{}, len(members))
	msg := types.AttestationMessage(
		claim.AssetID,
		claim.Request.BurnNonce,
		claim.Request.User,
		claim.Request.ExpectedAmount,
		claim.Request.ValidatorSetVersion,
	)

	for col.Responded < queried {
		select {
		case res := <-results:
			col.Responded++
			vote, outcome := c.check(set, claim, msg, seen, res)
			c.recordResponse(outcome)
			if vote == nil {
				col.Discarded++
				continue
			}
			if c.metrics != nil {
				c.metrics.RecordValidatorVote(vote.Validator.String())
			}
			col.Votes = append(col.Votes, *vote)
			col.Stake += vote.Stake
			if set.ThresholdMet(col.Stake, len(col.Votes)) {
				c.logger.Debug("attestation threshold met",
					zap.Stringer("claim", claim),
					zap.Uint64("stake", col.Stake),
					zap.Int("votes", len(col.Votes)),
					zap.Int("responded", col.Responded),
				)
				return col, nil
			}
		case <-batchTimer.C:
			return col, c.insufficient(claim, set, col, "batch timeout")
		case <-ctx.Done():
			return col, ctx.Err()
		}
	}

	return col, c.insufficient(claim, set, col, "all validators responded")
}

func (c *Collector) insufficient(claim *Claim, set *valset.Snapshot, col *Collection, reason string) error {
	c.logger.Info("not enough attestations",
		zap.Stringer("claim", claim),
		zap.String("reason", reason),
		zap.Int("votes", len(col.Votes)),
		zap.Uint64("stake", col.Stake),
		zap.Uint64("required_stake", set.Threshold.RequiredStake(set.Total)),
	)
	return types.Expected(fmt.Errorf("%w: %d of %d validators attested with stake %d",
		types.ErrInsufficientAttestations, len(col.Votes), len(set.Validators), col.Stake))
}

func (c *Collector) recordResponse(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordCollectorResponse(outcome)
	}
}

// check turns a response into a vote the engine will accept, or discards it.
func (c *Collector) check(
	set *valset.Snapshot,
	claim *Claim,
	msg []byte,
	seen map[types.PublicKey]struct{},
	res result,
) (*types.ValidatorVote, string) {
	logger := c.logger.With(
		zap.Stringer("target", res.target),
		zap.String("endpoint", res.endpoint),
		zap.Stringer("claim", claim),
	)

	if res.err != nil {
		logger.Debug("validator did not attest", zap.Error(res.err))
		return nil, outcomeFailed
	}

	asset, vote, err := res.resp.Validate(&claim.Request)
	if err != nil {
		logger.Debug("discarding malformed attestation", zap.Error(err))
		return nil, outcomeMalformed
	}
	if asset != claim.AssetID {
		logger.Debug("discarding attestation of another asset", zap.Stringer("asset", asset))
		return nil, outcomeWrongAsset
	}

	if vote.Validator != res.target {
		logger.Debug("discarding attestation signed by another validator", zap.Stringer("validator", vote.Validator))
		return nil, outcomeWrongValidator
	}

	stake, ok := set.StakeOf(vote.Validator)
	if !ok {
		logger.Debug("discarding attestation of a non-member", zap.Stringer("validator", vote.Validator))
		return nil, outcomeNotMember
	}
	vote.Stake = stake

	if !types.VerifySignature(vote.Validator, msg, vote.Signature) {
		logger.Warn("discarding attestation with an invalid signature", zap.Stringer("validator", vote.Validator))
		return nil, outcomeInvalidSignature
	}

	if _, dup := seen[vote.Validator]; dup {
		return nil, outcomeDuplicate
	}
	seen[vote.Validator] = struct{}{}

	return vote, outcomeValid
}

// attest posts the request to one endpoint, retrying failed calls. Each
// attempt has its own timeout.
func (c *Collector) attest(ctx context.Context, endpoint string, body []byte) (*types.AttestationResponse, error) {
	url := strings.TrimRight(endpoint, "/") + types.AttestationPath

	var resp *types.AttestationResponse
	err := retry.Do(func() error {
		var err error
		resp, err = c.post(ctx, url, body)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(c.cfg.RetryAttempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, errRequestRejected)
		}))

	return resp, err
}

func (c *Collector) post(ctx context.Context, url string, body []byte) (*types.AttestationResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	switch {
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("validator error %d: %s", httpResp.StatusCode, strings.TrimSpace(string(data)))
	case httpResp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w with status %d: %s", errRequestRejected, httpResp.StatusCode, strings.TrimSpace(string(data)))
	}

	var resp types.AttestationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", errRequestRejected, err)
	}

	return &resp, nil
}

// Inflight returns the number of calls that have not returned yet.
func (c *Collector) Inflight() int64 {
	return c.inflight.Load()
}

// Stop waits for every call started by Collect to return and releases
// idle connections.
func (c *Collector) Stop() {
	c.wg.Wait()
	c.client.CloseIdleConnections()
}

func (c *Claim) String() string {
	return fmt.Sprintf("%s/%s/%d", c.AssetID, c.Request.User, c.Request.BurnNonce)
}
