package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/config"
	"github.com/temcen/hybridrec/internal/database"
	"github.com/temcen/hybridrec/internal/importer"
	"github.com/temcen/hybridrec/internal/store"
	"github.com/temcen/hybridrec/internal/validation"
)

func main() {
	customers := flag.String("customers", "", "customer file (.csv or .json)")
	products := flag.String("products", "", "product file (.csv or .json)")
	purchases := flag.String("purchases", "", "purchase file (.csv or .json)")
	dryRun := flag.Bool("dry-run", false, "validate files without writing to the database")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n\nExamples:\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "  %s -customers data/customers.csv\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "  %s -products data/products.json -purchases data/purchases.csv\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	files := []struct {
		kind importer.Kind
		path string
	}{
		{importer.KindCustomers, *customers},
		{importer.KindProducts, *products},
		{importer.KindPurchases, *purchases},
	}

	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load import schemas")
	}
	reader := importer.NewReader(schemas, logger)

	var batch store.Batch
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if err := readFile(reader, f.kind, f.path, &batch); err != nil {
			logger.WithError(err).WithField("file", f.path).Fatal("Import file rejected")
		}
	}

	if batch.Size() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	fields := logrus.Fields{
		"customers": len(batch.Customers),
		"products":  len(batch.Products),
		"purchases": len(batch.Purchases),
	}
	if *dryRun {
		logger.WithFields(fields).Info("Dry run, files are valid")
		return
	}

	if err := write(cfg, logger, batch); err != nil {
		logger.WithError(err).Fatal("Import failed")
	}

	logger.WithFields(fields).Info("Import completed")
}

func write(cfg *config.Config, logger *logrus.Logger, batch store.Batch) error {
	db, err := database.NewPostgres(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer db.Close()

	if err := db.ConnectNeo4j(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := store.NewPostgresStore(db.PG, logger).Import(ctx, batch); err != nil {
		return fmt.Errorf("nothing was written: %w", err)
	}
	if db.Neo4j == nil {
		return nil
	}

	// The graph is derived from PostgreSQL and projection is idempotent, so a
	// failed projection is repaired by running the same import again.
	if err := store.NewPurchaseGraph(db.Neo4j, logger).Import(ctx, batch); err != nil {
		return fmt.Errorf("batch committed to PostgreSQL but not to the purchase graph: %w", err)
	}
	return nil
}

func readFile(reader *importer.Reader, kind importer.Kind, path string, batch *store.Batch) error {
	format, err := importer.FormatFromPath(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return reader.Read(kind, format, f, batch)
}
