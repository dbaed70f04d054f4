// Package main provides the SafeOps gateway binary: a webhook ingestion
// server that verifies CI provider signatures, enriches events with build
// logs and metrics, and feeds the raw-logs pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MohamedLahlami/SafeOps/src/broker"
	"github.com/MohamedLahlami/SafeOps/src/config"
	"github.com/MohamedLahlami/SafeOps/src/contracts"
	"github.com/MohamedLahlami/SafeOps/src/gateway"
	"github.com/MohamedLahlami/SafeOps/src/githubactions"
	"github.com/MohamedLahlami/SafeOps/src/gitlab"
	"github.com/MohamedLahlami/SafeOps/src/logger"
	"github.com/MohamedLahlami/SafeOps/src/provider"
	"github.com/MohamedLahlami/SafeOps/src/signature"
	"github.com/MohamedLahlami/SafeOps/src/store"
)

var rootCmd = &cobra.Command{
	Use:   "safeops-gateway",
	Short: "SafeOps webhook ingestion gateway",
	Long: `The SafeOps gateway receives CI/CD webhooks from GitHub Actions and
GitLab CI, verifies their signatures, fetches build logs and metrics from
the provider APIs, records every payload in the audit store and publishes
enriched events to the raw-logs topic for downstream analysis.

Configuration comes from environment variables; see the README for the
full list. The gateway keeps accepting webhooks while the audit store or
the broker is down and reports the degradation in its responses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The audit store is best-effort at boot only: with Postgres down the
	// gateway still verifies, enriches and publishes, reporting
	// stored=false and a degraded readiness until the database comes back.
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pg, err := store.NewPostgresStore(initCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Warn("audit store unreachable at boot, continuing degraded", zap.Error(err))
		pg, err = store.OpenPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
	}
	var audit store.AuditStore = pg
	defer audit.Close()

	publisher := broker.NewKafkaPublisher(cfg.KafkaBrokers, cfg.RawLogsTopic, log)
	publisher.Start(ctx)
	defer publisher.Close()

	githubFetcher := githubactions.NewFetcher(cfg.GitHubToken, log)
	registry := provider.Registry{
		contracts.ProviderGitHub: githubFetcher,
		contracts.ProviderGitLab: gitlab.NewFetcher(cfg.GitLabBaseURL, cfg.GitLabToken, log),
		// Synthetic test webhooks carry GitHub-shaped payloads.
		contracts.ProviderTest: githubFetcher,
	}

	permissive := cfg.IsDevelopment() && !cfg.StrictSignatures
	verifier := signature.New(cfg.WebhookSecret, permissive)

	srv := gateway.NewServer(cfg, verifier, registry, audit, publisher, log)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	log.Info("gateway stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
