// Command ingest feeds already-parsed retailer records (NDJSON, one raw
// record per line) through the reconciliation pipeline. Intended for
// backfills and for crawlers that drop batches on disk.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"grocery-price/internal/catalog"
	"grocery-price/internal/config"
	"grocery-price/internal/crawlqueue"
	"grocery-price/internal/ingest"
	"grocery-price/internal/logger"
	"grocery-price/internal/model"
	"grocery-price/internal/pricing"
	"grocery-price/internal/store"
)

func main() {
	file := flag.String("file", "-", "NDJSON file of raw records, or - for stdin")
	retailer := flag.String("retailer", "", "retailer_id to apply to records that omit one")
	flag.Parse()

	if err := run(*file, *retailer); err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(1)
	}
}

func run(file, retailer string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	var st store.Store
	if cfg.StoreBackend == "memory" {
		st = store.NewMemory()
	} else if st, err = store.NewSQLite(cfg.DataDir); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	records, err := readRecords(file, retailer)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records to ingest")
	}

	arbiter := pricing.NewArbiter(pricing.Policy{UserOverrideTTL: cfg.UserOverrideTTL}, log)
	queueCfg := crawlqueue.DefaultConfig()
	queueCfg.LeaseWindow = cfg.LeaseWindow
	queueCfg.MaxFailures = cfg.MaxCrawlFailures
	queueCfg.RetryBackoff = cfg.CrawlRetryBackoff

	var limiter *rate.Limiter
	if cfg.IngestRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.IngestRatePerSec), 1)
	}

	pipeline := ingest.NewPipeline(
		catalog.New(st, log),
		pricing.NewLedger(st, arbiter, log),
		pricing.NewAggregator(st, log),
		crawlqueue.New(st, queueCfg, log),
		limiter,
		log,
	)

	result, err := pipeline.ProcessBatch(context.Background(), records)
	if err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}

	log.Info("batch complete",
		zap.Int("processed", result.Processed),
		zap.Int("accepted", result.Accepted),
		zap.Int("overridden", result.Overridden),
		zap.Int("invalid", result.Invalid),
		zap.Int("failed", result.Failed),
		zap.Int("recomputed", result.Recomputed),
	)
	fmt.Printf("processed=%d accepted=%d overridden=%d invalid=%d failed=%d recomputed=%d\n",
		result.Processed, result.Accepted, result.Overridden, result.Invalid, result.Failed, result.Recomputed)
	return nil
}

func readRecords(file, retailer string) ([]model.RawRecord, error) {
	var in io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var records []model.RawRecord
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.RawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse line %q: %w", string(line), err)
		}
		if rec.RetailerID == "" {
			rec.RetailerID = retailer
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return records, nil
}
