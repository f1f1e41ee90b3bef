package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"sarkari-pulse/api"
	"sarkari-pulse/db"
	"sarkari-pulse/logger"
	"sarkari-pulse/models"
	"sarkari-pulse/sheets"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the REST API, the event stream and metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return serve(cmd.Context(), a)
	},
}

func serve(ctx context.Context, a *app) error {
	log := logger.WithComponent("main")

	srv := api.NewServer(api.Options{
		Context: ctx,
		Store:   a.store,
		Scraper: a.aggregator,
		Plans:   a.plans,
		Broker:  a.broker,
		Metrics: a.metrics,
	})

	servers := []*http.Server{{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}}
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Port > 0 && a.cfg.Metrics.Port != a.cfg.Server.Port {
		servers = append(servers, &http.Server{
			Addr:    fmt.Sprintf(":%d", a.cfg.Metrics.Port),
			Handler: a.metrics.Handler(),
		})
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			log.Info("listening", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Runs every enabled strategy once and prints the run report.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.aggregator.Run(cmd.Context(), a.plans)
		if err != nil {
			return fmt.Errorf("scrape run failed: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var (
	exportSpreadsheet string
	exportNewSheet    bool
	exportLevel       string
	exportState       string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exports active schemes to Google Sheets.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.WithComponent("main")
		ctx := cmd.Context()

		store, err := db.NewDB(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		target := exportSpreadsheet
		if target == "" {
			target = cfg.Sheets.SpreadsheetURL
		}
		writer, err := sheets.NewWriter(ctx, sheets.ExtractSpreadsheetID(target), cfg.Sheets.CredentialsPath)
		if err != nil {
			return err
		}

		schemes, err := allActiveSchemes(ctx, store, db.SchemeFilter{Level: exportLevel, State: exportState})
		if err != nil {
			return err
		}
		if len(schemes) == 0 {
			log.Info("no schemes to export")
			return nil
		}

		if !exportNewSheet {
			return writer.WriteSchemes(ctx, schemes, true)
		}
		note := fmt.Sprintf("%d active schemes, level=%q state=%q", len(schemes), exportLevel, exportState)
		name, gid, err := writer.CreateSheetAndWriteSchemes(ctx, "Schemes_"+time.Now().Format("20060102_150405"), schemes, note)
		if err != nil {
			return err
		}
		log.Info("export finished", "sheet", name, "gid", gid, "count", len(schemes))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSpreadsheet, "spreadsheet", "", "Google Sheets URL or ID (defaults to sheets.spreadsheet_url)")
	exportCmd.Flags().BoolVar(&exportNewSheet, "new-sheet", true, "Write to a new timestamped sheet instead of overwriting the first one")
	exportCmd.Flags().StringVar(&exportLevel, "level", "", "Only export schemes of this level (Central or State)")
	exportCmd.Flags().StringVar(&exportState, "state", "", "Only export schemes for this beneficiary state")
}

// allActiveSchemes pages through every active scheme matching f
func allActiveSchemes(ctx context.Context, store *db.DB, f db.SchemeFilter) ([]models.SchemeRecord, error) {
	f.ActiveOnly = true
	f.Limit = 500
	var out []models.SchemeRecord
	for f.Page = 1; ; f.Page++ {
		page, total, err := store.ListSchemes(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) == 0 || len(out) >= total {
			return out, nil
		}
	}
}
