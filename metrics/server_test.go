package metrics_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/metrics"
)

func TestMetricsServer(t *testing.T) {
	bm := metrics.NewBridgeMetrics()
	bm.RecordVerification("XENCAT", "success")
	bm.RecordValidatorVote("validator-a")
	bm.UpdateValidatorLiveness()

	srv, err := metrics.Start("127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)
	defer srv.Stop(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `bridge_verifications_total{asset="XENCAT",result="success"}`)
	require.Contains(t, string(body), `bridge_validator_seconds_since_last_vote{validator="validator-a"}`)

	// the port is taken
	_, err = metrics.Start(srv.Addr(), zap.NewNop())
	require.Error(t, err)
}
