package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/optbot/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running bot's state",
	Long: `Fetch /status from a running bot and render it.

Example:
  optbot status
  optbot status --addr 127.0.0.1:8090 --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	statusAddr string
	statusJSON bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "status API address (default server.addr)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw JSON")
}

type remoteStatus struct {
	session.Status
	Breaker string `json:"breaker"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Server.Addr
	}

	body, err := fetchStatus(cmd.Context(), addr)
	if err != nil {
		return err
	}
	if statusJSON {
		_, err := cmd.OutOrStdout().Write(body)
		return err
	}

	var st remoteStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st))
	return nil
}

func fetchStatus(ctx context.Context, addr string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := addr
	if !strings.HasPrefix(url, "http") {
		url = "http://" + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the bot running? %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status api: %s", resp.Status)
	}
	return b, nil
}

func renderStatus(st remoteStatus) string {
	market := st.Market
	if st.MarketOpen {
		market = okStyle.Render(market)
	}
	rows := []row{
		{"Mode", st.Mode},
		{"Updated", st.UpdatedAt.Local().Format(time.DateTime)},
		{"Market", market},
		{"Candle", fmt.Sprintf("%s  O %.2f  H %.2f  L %.2f  C %.2f", st.Candle.Time.Local().Format("15:04"), st.Candle.Open, st.Candle.High, st.Candle.Low, st.Candle.Close)},
		{"EMA", st.EMA.String()},
	}
	if st.Signal != "" {
		rows = append(rows, row{"Signal", fmt.Sprintf("%s (%.2f)", st.Signal, st.Confidence)})
	}

	risk := fmt.Sprintf("trades %d/%d  losses %d/%d  P/L %s",
		st.Risk.TradesToday, st.Limits.MaxDailyTrades,
		st.Risk.ConsecutiveLosses, st.Limits.MaxConsecutiveLosses,
		pnlText(st.Risk.DailyPnL))
	if st.Risk.Halted {
		risk += "  " + badStyle.Render("HALTED "+st.Risk.HaltReason)
	}
	rows = append(rows, row{"Risk", risk})

	if p := st.Position; p != nil {
		rows = append(rows,
			row{"Position", fmt.Sprintf("%s %d @ %.2f", p.Symbol, p.Quantity, p.EntryPrice)},
			row{"Index SL/Target", fmt.Sprintf("%.2f / %.2f", p.StopLoss, p.Target)},
			row{"Held", time.Since(p.EntryTime).Round(time.Second).String()},
		)
		if st.Mark > 0 {
			rows = append(rows, row{"Unrealised", fmt.Sprintf("%.2f  %s", st.Mark, pnlText(st.Unrealized))})
		}
	} else {
		rows = append(rows, row{"Position", "flat"})
	}

	rows = append(rows, row{"Session", fmt.Sprintf("signals %d  opened %d  closed %d  P/L %s",
		st.Session.Signals, st.Session.PositionsOpened, st.Session.PositionsClosed, pnlText(st.Session.PnL))})
	if st.Breaker != "" {
		b := st.Breaker
		if b != "closed" {
			b = warnStyle.Render(b)
		}
		rows = append(rows, row{"Order breaker", b})
	}
	if st.LastError != "" {
		rows = append(rows, row{"Last error", badStyle.Render(st.LastError)})
	}
	return panel("optbot", rows)
}
