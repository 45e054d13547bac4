// cmd/importer loads MetaTrader 5 CSV exports into the SQLite candle store
// used by the backtest.
//
// Usage:
//
//	go run ./cmd/importer --symbol="Step Index" instr_data/step_index/*.csv
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/pondem87/kraken/config"
	"github.com/pondem87/kraken/internal/marketdata/mt5csv"
	"github.com/pondem87/kraken/internal/model"
	sqlitestore "github.com/pondem87/kraken/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	infra := config.LoadInfra()
	symbol := flag.String("symbol", "", "Instrument name stored with every candle")
	tfStr := flag.String("tf", "", "Timeframe of every file (default: taken from each file name)")
	dbPath := flag.String("db", infra.SQLitePath, "Path to SQLite database")
	flag.Parse()

	if *symbol == "" || flag.NArg() == 0 {
		log.Fatal("[importer] usage: importer --symbol=NAME [--tf=M15] file.csv...")
	}
	var fixedTF model.Timeframe
	if *tfStr != "" {
		tf, err := model.ParseTimeframe(*tfStr)
		if err != nil {
			log.Fatalf("[importer] %v", err)
		}
		fixedTF = tf
	}

	if dir := filepath.Dir(*dbPath); dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[importer] sqlite init failed: %v", err)
	}
	defer w.Close()

	ctx := context.Background()
	total := 0
	for _, path := range flag.Args() {
		tf := fixedTF
		if tf == 0 {
			if tf, err = mt5csv.TimeframeFromName(path); err != nil {
				log.Fatalf("[importer] %v (pass --tf)", err)
			}
		}
		n, err := importFile(ctx, w, path, *symbol, tf)
		if err != nil {
			log.Fatalf("[importer] %s: %v", path, err)
		}
		total += n
		log.Printf("[importer] %s: %d %s candles", path, n, tf)
	}
	log.Printf("[importer] done: %d candles into %s", total, *dbPath)
}

func importFile(ctx context.Context, w model.CandleWriter, path, symbol string, tf model.Timeframe) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	candles, err := mt5csv.Parse(f, symbol, tf)
	if err != nil {
		return 0, err
	}
	if err := w.WriteCandles(ctx, candles); err != nil {
		return 0, err
	}
	return len(candles), nil
}
