package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jskelly/gomend/pkg/approval"
	"github.com/jskelly/gomend/pkg/candidate"
	"github.com/jskelly/gomend/pkg/config"
	"github.com/jskelly/gomend/pkg/engine"
	"github.com/jskelly/gomend/pkg/ledger"
	"github.com/jskelly/gomend/pkg/scoring"
	"github.com/jskelly/gomend/pkg/server"
	"github.com/jskelly/gomend/pkg/snapshot"
	"github.com/jskelly/gomend/pkg/storage"
)

// NewServeCommand creates the serve subcommand.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the healing engine and HTTP API",
		Long: `Run the gomend service: the healing worker pool plus the HTTP API for
failure intake, the approval queue, rollback, and audit queries.

Credentials (API bearer token, semantic scoring key) are read from the
system keyring when not present in the config file; store them with
'gomend credential set'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(GlobalConfig.ConfigPath)
			if err != nil {
				return err
			}
			if GlobalConfig.Debug {
				cfg.Logging.Level = "debug"
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg config.Config) error {
	logger := NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

	// Config-file secrets win; keyring fills the gaps.
	creds := storage.NewKeyringCredentialStore()
	if cfg.Server.AuthToken == "" {
		if tok, err := creds.Get(storage.CredentialAPIToken); err == nil {
			cfg.Server.AuthToken = tok
		}
	}
	if cfg.Scoring.SemanticAPIKey == "" {
		if key, err := creds.Get(storage.CredentialSemanticKey); err == nil {
			cfg.Scoring.SemanticAPIKey = key
		}
	}

	db, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	snapshots, err := snapshot.NewDirStore(cfg.Storage.SnapshotDir)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}

	records := storage.NewSQLiteRecordRepository(db)
	history := storage.NewSQLiteHistoryStore(db)
	auditLedger := ledger.New(db)

	var semantic scoring.SemanticProvider
	if cfg.Scoring.SemanticEndpoint != "" {
		semantic = scoring.NewHTTPSemanticProvider(cfg.Scoring.SemanticEndpoint, cfg.Scoring.SemanticAPIKey, cfg.Scoring.SignalTimeout)
	}
	scorer, err := scoring.NewScorer(cfg.Scoring.Weights, history, semantic, cfg.Scoring.SignalTimeout, logger)
	if err != nil {
		return err
	}

	policy, err := approval.NewPolicy(cfg.Healing.ApprovalPolicy)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, engine.Deps{
		Records:   records,
		Ledger:    auditLedger,
		Snapshots: snapshots,
		Scorer:    scorer,
		Generator: candidate.NewGenerator(logger),
		Validator: engine.NewResolveValidator(snapshots, nil),
		History:   history,
		Policy:    policy,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	gateway := approval.NewGateway(records, eng)

	srv, err := server.NewServer(cfg.Server, eng, gateway, nil, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Start(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return srv.Shutdown(context.Background())
	})

	logger.Info("gomend started", "address", srv.Address(), "database", cfg.Storage.DatabasePath)
	return g.Wait()
}
