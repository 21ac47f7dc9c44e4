package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/config"
	"leverage-sync/internal/domain"
	"leverage-sync/internal/observability"
	"leverage-sync/internal/pnl"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	rpcEndpoint := flag.String("rpc-endpoint", "", "JSON-RPC HTTP endpoint (overrides config)")
	trading := flag.String("trading", "", "Trading contract address (overrides config)")
	feeds := flag.String("feeds", "", "Comma-separated feeds to price (overrides config)")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [trader ...]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Reads open positions from the trading contract and values them at current oracle prices.")
		fmt.Fprintln(flag.CommandLine.Output(), "Traders default to the configured list.")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := observability.NewLogger("positions")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if *rpcEndpoint != "" {
		cfg.Chain.RPCEndpoint = *rpcEndpoint
	}
	if *trading != "" {
		cfg.Contracts.Trading = *trading
	}
	if *feeds != "" {
		cfg.Feeds = strings.Split(*feeds, ",")
	}

	traders := cfg.Traders
	if flag.NArg() > 0 {
		traders = flag.Args()
	}

	if cfg.Chain.RPCEndpoint == "" {
		logger.Fatal().Msg("rpc endpoint is required (--rpc-endpoint or chain.rpc_endpoint)")
	}
	if !common.IsHexAddress(cfg.Contracts.Trading) {
		logger.Fatal().Str("trading", cfg.Contracts.Trading).Msg("valid trading contract address is required")
	}
	if len(traders) == 0 {
		logger.Fatal().Msg("no traders given")
	}
	addrs := make([]common.Address, 0, len(traders))
	for _, t := range traders {
		if !common.IsHexAddress(t) {
			logger.Fatal().Str("trader", t).Msg("invalid trader address")
		}
		addrs = append(addrs, common.HexToAddress(t))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rpc := chain.NewHTTPClient(cfg.Chain.RPCEndpoint, chain.WithLogger(logger))
	reader := chain.NewContractReader(rpc, cfg.TradingAddress())

	if err := run(ctx, reader, addrs, cfg.Feeds, os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg("read positions")
	}
}

func run(ctx context.Context, reader chain.LedgerReader, traders []common.Address, feeds []string, out io.Writer) error {
	positions := make([]domain.Position, 0)
	feedSet := make(map[string]struct{}, len(feeds))
	for _, f := range feeds {
		if f = strings.TrimSpace(f); f != "" {
			feedSet[f] = struct{}{}
		}
	}

	for _, trader := range traders {
		ps, err := reader.ReadOpenPositions(ctx, trader, chain.Latest)
		if err != nil {
			return fmt.Errorf("trader %s: %w", trader.Hex(), err)
		}
		for _, p := range ps {
			feedSet[p.Feed] = struct{}{}
		}
		positions = append(positions, ps...)
	}

	names := make([]string, 0, len(feedSet))
	for f := range feedSet {
		names = append(names, f)
	}
	sort.Strings(names)

	prices, err := reader.ReadLatestPrices(ctx, names)
	if err != nil {
		return fmt.Errorf("read prices: %w", err)
	}

	render(out, positions, prices)
	return nil
}

func render(out io.Writer, positions []domain.Position, prices map[string]domain.PriceTick) {
	sort.Slice(positions, func(i, j int) bool {
		if c := positions[i].Trader.Cmp(positions[j].Trader); c != 0 {
			return c < 0
		}
		return positions[i].ID < positions[j].ID
	})

	table := tablewriter.NewWriter(out)
	table.Header("Trader", "ID", "Feed", "Side", "Leverage", "Collateral", "Entry", "Price", "PnL")

	for _, p := range positions {
		price, pnlStr := "-", "-"
		if tick, ok := prices[p.Feed]; ok {
			price = domain.FormatFixedRound(tick.Price, domain.PriceDecimals, 2)
			if v, err := pnl.Compute(p, tick.Price); err == nil {
				pnlStr = domain.FormatFixed(v, domain.AmountDecimals)
			} else {
				pnlStr = "invalid"
			}
		}
		table.Append(
			p.Trader.Hex(),
			strconv.FormatUint(p.ID, 10),
			p.Feed,
			string(p.Direction),
			domain.FormatLeverage(p.Leverage),
			domain.FormatFixed(p.Amount, domain.AmountDecimals),
			domain.FormatFixedRound(p.EntryPrice, domain.PriceDecimals, 2),
			price,
			pnlStr,
		)
	}
	table.Render()
	fmt.Fprintf(out, "%d open positions\n", len(positions))
}
