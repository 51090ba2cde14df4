package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/joho/godotenv"

	flasharb "github.com/flowstate-labs/flasharbgo"
	"github.com/flowstate-labs/flasharbgo/configs"
	"github.com/flowstate-labs/flasharbgo/internal/db"
	"github.com/flowstate-labs/flasharbgo/internal/outcome"
	"github.com/flowstate-labs/flasharbgo/internal/state"
	"github.com/flowstate-labs/flasharbgo/internal/util"
	"github.com/flowstate-labs/flasharbgo/pkg/chain"
	"github.com/flowstate-labs/flasharbgo/pkg/contractclient"
	"github.com/flowstate-labs/flasharbgo/pkg/txbuilder"
	"github.com/flowstate-labs/flasharbgo/pkg/txlistener"
)

func main() {
	// .env is optional: production deployments set ENC_PK/KEY directly in
	// the environment, local runs keep them in an untracked .env file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	configPath := "configs/config.yml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := configs.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	encryptedPk := os.Getenv(cfg.EncryptedKeyEnv())
	if encryptedPk == "" {
		log.Fatalf("%s not set", cfg.EncryptedKeyEnv())
	}
	key := os.Getenv(cfg.KeyEnv())
	if key == "" {
		log.Fatalf("%s not set", cfg.KeyEnv())
	}
	pkHex, err := util.Decrypt([]byte(key), encryptedPk)
	if err != nil {
		log.Fatalf("decrypt signer key: %v", err)
	}
	privateKey, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		log.Fatalf("parse signer key: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rpcClient, err := gethrpc.DialContext(ctx, cfg.RPC)
	if err != nil {
		log.Fatalf("dial rpc %s: %v", cfg.RPC, err)
	}
	ethClient := ethclient.NewClient(rpcClient)

	listener := txlistener.NewTxListener(
		ethClient,
		txlistener.WithPollInterval(3*time.Second),
		txlistener.WithTimeout(5*time.Minute),
	)
	transport := chain.NewEVMTransport(rpcClient, listener)

	contractABI, err := util.LoadABIFromHardhatArtifact(cfg.AggregatorABIPath)
	if err != nil {
		log.Fatalf("load aggregator abi: %v", err)
	}
	builder := txbuilder.NewFlashAggregatorBuilder(contractABI)
	signer := txbuilder.NewPrivateKeySigner(privateKey)
	decoder := contractclient.NewContractClient(ethClient, common.HexToAddress(cfg.Executor.AggregatorAddress), contractABI)

	pools, err := cfg.ToPoolDescriptors()
	if err != nil {
		log.Fatalf("build pool descriptors: %v", err)
	}
	detectorCfg, err := cfg.ToDetectorConfig()
	if err != nil {
		log.Fatalf("build detector config: %v", err)
	}
	analyzerCfg, err := cfg.ToAnalyzerConfig()
	if err != nil {
		log.Fatalf("build analyzer config: %v", err)
	}
	executorCfg, err := cfg.ToExecutorConfig()
	if err != nil {
		log.Fatalf("build executor config: %v", err)
	}

	keeper, err := state.NewKeeper(ctx, fmt.Sprintf("%s/nonce.json", cfg.DataDir), signer.Address(), transport, cfg.PendingTimeout())
	if err != nil {
		log.Fatalf("load nonce keeper: %v", err)
	}
	outcomes := outcome.NewStore(fmt.Sprintf("%s/trades.jsonl", cfg.DataDir))

	// mirror stays a nil flasharb.OutcomeMirror (not a nil *db.Mirror behind a
	// non-nil interface) when the MySQL mirror is disabled.
	var mirror flasharb.OutcomeMirror
	if cfg.MySQLDSN != "" {
		m, err := db.NewMirror(cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("connect outcome mirror: %v", err)
		}
		defer m.Close()
		mirror = m
	}

	engine := flasharb.NewEngine(flasharb.EngineConfig{
		Pools:             pools,
		Transport:         transport,
		SnapshotterConfig: cfg.ToSnapshotterConfig(),
		DetectorConfig:    detectorCfg,
		AnalyzerConfig:    analyzerCfg,
		ExecutorConfig:    executorCfg,
		Builder:           builder,
		Signer:            signer,
		Keeper:            keeper,
		Outcomes:          outcomes,
		Mirror:            mirror,
		Decoder:           decoder,
	})

	log.Printf("flasharb starting: mode=%s pools=%d rpc=%s", cfg.Mode, len(pools), cfg.RPC)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("engine stopped: %v", err)
	}
}
