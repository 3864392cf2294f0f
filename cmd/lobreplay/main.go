// Command lobreplay reconstructs per-instrument limit order books from
// historical exchange tapes.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"lobreplay/internal/batch"
	"lobreplay/internal/config"
	"lobreplay/internal/engine"
	"lobreplay/internal/replay"
	"lobreplay/internal/snapshot"
)

var (
	configFile string

	historyPath, ordersPath, exitsPath, tradesPath string
	isin                                           string
	dateStr, openTimeStr, closeTimeStr             string
	snapshotOut                                    string

	batchWorkers int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lobreplay",
	Short: "lobreplay reconstructs exchange order books from historical tapes",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (yaml/toml/json)")
	config.BindFlags(rootCmd.PersistentFlags())

	replayCmd.Flags().StringVar(&historyPath, "history", "", "history tape CSV path")
	replayCmd.Flags().StringVar(&ordersPath, "orders", "", "orders tape CSV path")
	replayCmd.Flags().StringVar(&exitsPath, "exits", "", "exits tape CSV path")
	replayCmd.Flags().StringVar(&tradesPath, "trades", "", "trades tape CSV path")
	replayCmd.Flags().StringVar(&isin, "isin", "", "instrument ISIN")
	replayCmd.Flags().StringVar(&dateStr, "date", "", "trading day, RFC3339 date")
	replayCmd.Flags().StringVar(&openTimeStr, "open", "", "opening auction instant, RFC3339")
	replayCmd.Flags().StringVar(&closeTimeStr, "close", "", "closing auction instant, RFC3339")
	replayCmd.Flags().StringVar(&snapshotOut, "snapshot-out", "", "write snapshot CSV to this path")
	rootCmd.AddCommand(replayCmd)

	verifyCmd.Flags().AddFlagSet(replayCmd.Flags())
	rootCmd.AddCommand(verifyCmd)

	batchCmd.Flags().AddFlagSet(replayCmd.Flags())
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 4, "number of parallel replay workers")
	rootCmd.AddCommand(batchCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "replay one instrument-day and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, run, rec, err := runOne(cmd)
		if err != nil {
			return err
		}
		_ = cfg
		log.Info().
			Str("run_id", run.ID.String()).
			Str("isin", run.ISIN).
			Bool("reconciled", rec.OK()).
			Msg("replay complete")
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "replay one instrument-day and exit non-zero on reconciliation failure",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, run, rec, err := runOne(cmd)
		if err != nil {
			return err
		}
		if !rec.OK() {
			for fid, mismatch := range rec.Divergent {
				log.Error().
					Int64("fid", fid).
					Uint64("tape_buy", mismatch.TapeBuyQty).
					Uint64("engine_buy", mismatch.EngineBuyQty).
					Uint64("tape_sell", mismatch.TapeSellQty).
					Uint64("engine_sell", mismatch.EngineSellQty).
					Msg("reconciliation divergence")
			}
			return fmt.Errorf("lobreplay: %s reconciliation failed for %d fid(s)", run.ISIN, len(rec.Divergent))
		}
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "replay a single job through the supervised worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Flags(), configFile)
		if err != nil {
			return err
		}
		applyLogLevel(cfg)

		tapes, err := replay.LoadCSVTapeSource(historyPath, ordersPath, exitsPath, tradesPath)
		if err != nil {
			return err
		}
		opening, closing, date, err := parseTimes()
		if err != nil {
			return err
		}

		runner := batch.NewRunner(batchWorkers)
		outcomes, err := runner.Run([]batch.Job{{
			ISIN: isin, Date: date, Opening: opening, Closing: closing, Tapes: tapes,
		}})
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if o.Err != nil {
				return o.Err
			}
			log.Info().Str("isin", o.Job.ISIN).Bool("reconciled", o.Rec.OK()).Msg("batch job complete")
		}
		return nil
	},
}

func applyLogLevel(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func parseTimes() (opening, closing, date time.Time, err error) {
	date, err = time.Parse(time.RFC3339, dateStr)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, fmt.Errorf("lobreplay: parsing --date: %w", err)
	}
	opening, err = time.Parse(time.RFC3339, openTimeStr)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, fmt.Errorf("lobreplay: parsing --open: %w", err)
	}
	closing, err = time.Parse(time.RFC3339, closeTimeStr)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, fmt.Errorf("lobreplay: parsing --close: %w", err)
	}
	return opening, closing, date, nil
}

func runOne(cmd *cobra.Command) (config.Config, *replay.Run, replay.Reconciliation, error) {
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return config.Config{}, nil, replay.Reconciliation{}, err
	}
	applyLogLevel(cfg)

	tapes, err := replay.LoadCSVTapeSource(historyPath, ordersPath, exitsPath, tradesPath)
	if err != nil {
		return config.Config{}, nil, replay.Reconciliation{}, err
	}

	opening, closing, date, err := parseTimes()
	if err != nil {
		return config.Config{}, nil, replay.Reconciliation{}, err
	}

	run := replay.NewRun(isin, date, opening, closing, tapes)

	var snap replay.SnapshotFunc
	if snapshotOut != "" {
		f, err := os.Create(snapshotOut)
		if err != nil {
			return config.Config{}, nil, replay.Reconciliation{}, fmt.Errorf("lobreplay: creating snapshot output: %w", err)
		}
		defer f.Close()

		writer := snapshot.NewWriter(f, cfg.SnapshotDepth)
		emitter := snapshot.Emitter{Depth: cfg.SnapshotDepth}
		snap = func(book *engine.OrderBook, ts time.Time) {
			row := emitter.Emit(book, ts, cfg.CancelSweepLimit)
			if err := writer.WriteRow(row); err != nil {
				log.Error().Err(err).Msg("lobreplay: writing snapshot row")
			}
		}
	}

	if err := run.Execute(tapes, cfg.SnapshotInterval, snap); err != nil {
		return cfg, run, replay.Reconciliation{}, err
	}

	return cfg, run, run.Result(tapes), nil
}
