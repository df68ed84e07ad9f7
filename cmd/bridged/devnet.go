package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/clientcontroller"
	"github.com/xencat/bridge-verifier/log"
	"github.com/xencat/bridge-verifier/types"
)

const (
	defaultDevnetListener = "127.0.0.1:8899"
	defaultSlotTime       = time.Second
)

var devnetCommand = cli.Command{
	Name:  "devnet",
	Usage: "bridged devnet --burn XENCAT:<user>:<amount>",
	Description: "Serve an in-memory source ledger over JSON-RPC. Slots advance every slot-time, " +
		"and burns can be created with --burn or POST /burns",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  listenerFlag,
			Usage: "The address the ledger RPC listens on",
			Value: defaultDevnetListener,
		},
		cli.DurationFlag{
			Name:  slotTimeFlag,
			Usage: "The time between two slots",
			Value: defaultSlotTime,
		},
		cli.StringSliceFlag{
			Name:  burnFlag,
			Usage: "A burn to create at startup, as asset:user:amount",
		},
	},
	Action: devnet,
}

type burnRequest struct {
	Asset  string          `json:"asset"`
	User   types.PublicKey `json:"user"`
	Amount uint64          `json:"amount"`
}

func parseBurn(s string) (*burnRequest, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid burn %q, expected asset:user:amount", s)
	}
	var user types.PublicKey
	if err := user.UnmarshalText([]byte(parts[1])); err != nil {
		return nil, fmt.Errorf("invalid burn user %q: %w", parts[1], err)
	}
	amount, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid burn amount %q: %w", parts[2], err)
	}
	return &burnRequest{Asset: parts[0], User: user, Amount: amount}, nil
}

func burn(ledger *clientcontroller.MemLedger, req *burnRequest, logger *zap.Logger) (*types.BurnRecord, error) {
	asset, err := types.AssetFromName(req.Asset)
	if err != nil {
		return nil, err
	}
	rec, err := ledger.Burn(asset, req.User, req.Amount)
	if err != nil {
		return nil, err
	}
	logger.Info("burned",
		zap.Stringer("asset", rec.AssetID),
		zap.Uint64("nonce", rec.Nonce),
		zap.Stringer("user", rec.User),
		zap.Uint64("amount", rec.Amount),
	)
	return rec, nil
}

func devnet(ctx *cli.Context) error {
	logger, err := log.NewRootLogger("auto", "info", os.Stdout)
	if err != nil {
		return err
	}

	ledger := clientcontroller.NewMemLedger(1)
	for _, s := range ctx.StringSlice(burnFlag) {
		req, err := parseBurn(s)
		if err != nil {
			return err
		}
		if _, err := burn(ledger, req, logger); err != nil {
			return err
		}
	}
	ledger.AdvanceSlots(1)

	rpcSrv, err := clientcontroller.NewLedgerServer(ledger)
	if err != nil {
		return fmt.Errorf("failed to create the ledger RPC server: %w", err)
	}
	defer rpcSrv.Stop()

	router := mux.NewRouter()
	router.HandleFunc("/burns", func(w http.ResponseWriter, r *http.Request) {
		var req burnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec, err := burn(ledger, &req, logger)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	}).Methods(http.MethodPost)
	router.PathPrefix("/").Handler(rpcSrv)

	listener, err := net.Listen("tcp", ctx.String(listenerFlag))
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ctx.String(listenerFlag), err)
	}
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("devnet ledger server stopped", zap.Error(err))
		}
	}()
	logger.Info("devnet ledger is serving", zap.String("address", listener.Addr().String()))

	interceptor, err := signal.Intercept()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(ctx.Duration(slotTimeFlag))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ledger.AdvanceSlots(1)
			slot, _ := ledger.FinalizedSlot(context.Background())
			logger.Debug("advanced slot", zap.Uint64("finalized", slot))
		case <-interceptor.ShutdownChannel():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}
