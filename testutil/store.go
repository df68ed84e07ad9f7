package testutil

import (
	"math/rand"
	"testing"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/require"

	"github.com/xencat/bridge-verifier/config"
)

func GenDBConfig(r *rand.Rand, t *testing.T) *config.DBConfig {
	cfg := config.DefaultDBConfigWithHomePath(t.TempDir())
	cfg.DBFileName = GenRandomHexStr(r, 8) + "-bridge.db"
	return &cfg
}

// MakeTestBackend opens a bolt backend in a temporary directory and closes it
// when the test ends.
func MakeTestBackend(r *rand.Rand, t *testing.T) kvdb.Backend {
	cfg := GenDBConfig(r, t)
	db, err := cfg.GetDbBackend()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}
