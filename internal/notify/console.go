package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"leverage-sync/internal/domain"
)

// Console renders notifications as tables, one table per batch.
type Console struct {
	out        io.Writer
	flushEvery time.Duration
	maxRows    int
}

// NewConsole creates a console sink writing to stdout.
func NewConsole(flushEvery time.Duration) *Console {
	return NewConsoleWriter(os.Stdout, flushEvery, 20)
}

// NewConsoleWriter creates a console sink writing to w. A batch is flushed
// after flushEvery or once it holds maxRows rows.
func NewConsoleWriter(w io.Writer, flushEvery time.Duration, maxRows int) *Console {
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	if maxRows <= 0 {
		maxRows = 20
	}
	return &Console{out: w, flushEvery: flushEvery, maxRows: maxRows}
}

// Name implements Sink.
func (c *Console) Name() string { return "console" }

// Run implements Sink.
func (c *Console) Run(ctx context.Context, in <-chan Notification) error {
	ticker := time.NewTicker(c.flushEvery)
	defer ticker.Stop()

	var batch []Notification
	flush := func() {
		if len(batch) > 0 {
			c.Render(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case <-ticker.C:
			flush()
		case n, ok := <-in:
			if !ok {
				flush()
				return nil
			}
			batch = append(batch, n)
			if len(batch) >= c.maxRows {
				flush()
			}
		}
	}
}

// Render writes one table for the given notifications.
func (c *Console) Render(batch []Notification) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Kind", "Origin", "Trader", "Position", "Feed", "Detail")

	for _, n := range batch {
		position := "-"
		if n.PositionID != 0 || n.Position != nil {
			position = strconv.FormatUint(n.PositionID, 10)
		}
		table.Append(
			n.At.Format("15:04:05"),
			string(n.Kind),
			string(n.Origin),
			shortAddress(n),
			position,
			n.Feed(),
			detail(n),
		)
	}

	table.Render()
}

func shortAddress(n Notification) string {
	if n.Kind == KindPriceUpdated {
		return "-"
	}
	hex := n.Trader.Hex()
	return hex[:6] + ".." + hex[len(hex)-4:]
}

func detail(n Notification) string {
	switch n.Kind {
	case KindPriceUpdated:
		if n.Tick == nil {
			return "-"
		}
		return "price " + domain.FormatFixedRound(n.Tick.Price, domain.PriceDecimals, 2)
	case KindPositionOpened:
		if n.Position == nil {
			return "-"
		}
		p := n.Position
		return fmt.Sprintf("%s %s @ %s, collateral %s, pnl %s",
			p.Direction,
			domain.FormatLeverage(p.Leverage),
			domain.FormatFixedRound(p.EntryPrice, domain.PriceDecimals, 2),
			domain.FormatFixed(p.Amount, domain.AmountDecimals),
			domain.FormatFixed(p.CurrentPnL, domain.AmountDecimals),
		)
	case KindPositionClosed, KindPositionLiquidated:
		return fmt.Sprintf("exit %s, pnl %s",
			domain.FormatFixedRound(n.ExitPrice, domain.PriceDecimals, 2),
			domain.FormatFixed(n.PnL, domain.AmountDecimals),
		)
	case KindPnLRecomputed:
		return "pnl " + domain.FormatFixed(n.PnL, domain.AmountDecimals)
	default:
		return "-"
	}
}
