package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nftrouter/planner-core/params"
	"github.com/nftrouter/planner-core/pkg/api"
	"github.com/nftrouter/planner-core/pkg/planner"
	"github.com/nftrouter/planner-core/pkg/planner/authcache"
	"github.com/nftrouter/planner-core/pkg/planner/chainclient"
	"github.com/nftrouter/planner-core/pkg/planner/facade"
	"github.com/nftrouter/planner-core/pkg/planner/oracle"
	"github.com/nftrouter/planner-core/pkg/planner/orderbook"
	"github.com/nftrouter/planner-core/pkg/planner/router"
	"github.com/nftrouter/planner-core/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/plannerd.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	reader, err := orderbook.Connect(context.Background(), cfg.Storage.PostgresDSN)
	if err != nil {
		sugar.Fatalw("orderbook_connect_failed", "err", err)
	}
	defer reader.Close()

	store, err := authcache.Open(cfg.Storage.PebblePath)
	if err != nil {
		sugar.Fatalw("authcache_open_failed", "err", err)
	}
	defer store.Close()

	nativeToken := common.HexToAddress(cfg.Chain.NativeToken)

	wallets, err := chainclient.Dial(context.Background(), cfg.Chain.RPCURL, nativeToken)
	if err != nil {
		sugar.Fatalw("chain_dial_failed", "err", err)
	}
	defer wallets.Close()

	feed := oracle.NewHTTPFeed(cfg.Chain.PriceFeedURL, nativeToken)
	priceOracle := oracle.New(util.RealClock{}, feed, cfg.Planner.ExternalCallTimeout)

	registry := router.NewRegistry()
	registerFillers(registry, cfg.Chain.Routers, sugar)

	var sanctioned []common.Address
	for _, addr := range cfg.Chain.SanctionedAddresses {
		if common.IsHexAddress(addr) {
			sanctioned = append(sanctioned, common.HexToAddress(addr))
		} else {
			sugar.Warnw("skipping_sanctioned_entry_bad_address", "address", addr)
		}
	}

	p := &facade.Planner{
		Reader:      reader,
		Registry:    registry,
		Store:       store,
		Oracle:      priceOracle,
		Wallets:     wallets,
		Clock:       util.RealClock{},
		Cfg:         cfg.Planner,
		NativeToken: nativeToken,
		Sanctions:   facade.NewInMemorySanctionsList(sanctioned...),
	}

	server := api.NewServer(p, logger, cfg.HTTP.AllowedOrigins)

	go func() {
		if err := server.Start(cfg.HTTP.Addr); err != nil {
			sugar.Fatalw("api_server_exited", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sugar.Infow("shutting_down")
}

// registerFillers wires one ProtocolFiller/MintFiller per router address
// present in routers, keyed by the OrderKind string it names (spec.md's
// protocol tags, e.g. "seaport-v1.5", "blur", "mint").
func registerFillers(reg *router.Registry, routers map[string]string, sugar *zap.SugaredLogger) {
	for kindStr, addrStr := range routers {
		if !common.IsHexAddress(addrStr) {
			sugar.Warnw("skipping_router_entry_bad_address", "protocol", kindStr, "address", addrStr)
			continue
		}
		addr := common.HexToAddress(addrStr)

		switch planner.OrderKind(kindStr) {
		case planner.KindSeaport:
			reg.Register(router.NewSeaportFiller(addr))
		case planner.KindBlur:
			reg.Register(router.NewBlurFiller(addr))
		case planner.KindLooksRare:
			reg.Register(router.NewLooksRareFiller(addr))
		case planner.KindX2Y2:
			reg.Register(router.NewX2Y2Filler(addr))
		case planner.KindElement:
			reg.Register(router.NewElementFiller(addr))
		case planner.KindRarible:
			reg.Register(router.NewRaribleFiller(addr))
		case planner.KindSudoswap:
			reg.Register(router.NewSudoswapFiller(addr))
		case planner.KindSudoswapV2:
			reg.Register(router.NewSudoswapV2Filler(addr))
		case planner.KindNftx:
			reg.Register(router.NewNftxFiller(addr))
		case planner.KindNftxV3:
			reg.Register(router.NewNftxV3Filler(addr))
		case planner.KindZora:
			reg.Register(router.NewZoraFiller(addr))
		case planner.KindPaymentProcessor:
			reg.Register(router.NewPaymentProcessorFiller(addr))
		case planner.KindPaymentProcessorV2:
			reg.Register(router.NewPaymentProcessorV2Filler(addr))
		case planner.KindMint:
			reg.RegisterMintFiller(router.NewMintStageFiller(addr))
		default:
			sugar.Warnw("unknown_router_protocol", "protocol", kindStr)
		}
	}
}
