package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/audit"
	"github.com/prescritto-ai/platform/pkg/clinical"
	"github.com/prescritto-ai/platform/pkg/common/config"
	"github.com/prescritto-ai/platform/pkg/common/database"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/embedding"
	"github.com/prescritto-ai/platform/pkg/gateway/httpclient"
	"github.com/prescritto-ai/platform/pkg/identity"
	"github.com/prescritto-ai/platform/pkg/knowledge"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "prescritto-admin",
		Short:         "Operational tasks for the prescription platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "Path to a YAML config file")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(hospitalCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(knowledgeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configFile)
	logger.Init(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

func openDB() (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.OpenPostgres(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update every table",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			steps := []struct {
				name string
				run  func() error
			}{
				{"identity", identity.NewRepository(db).AutoMigrate},
				{"clinical", clinical.NewRepository(db).AutoMigrate},
				{"audit", audit.NewRepository(db).AutoMigrate},
				{"knowledge", knowledge.NewPostgresStore(db).AutoMigrate},
			}
			for _, step := range steps {
				if err := step.run(); err != nil {
					return fmt.Errorf("migrate %s: %w", step.name, err)
				}
				logger.Log.WithField("tables", step.name).Info("migrated")
			}
			return nil
		},
	}
}

func hospitalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hospital",
		Short: "Manage hospitals",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			nome, _ := cmd.Flags().GetString("nome")
			cnpj, _ := cmd.Flags().GetString("cnpj")

			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			hospital, err := identity.NewService(identity.NewRepository(db)).CreateHospital(cmd.Context(), nome, cnpj)
			if err != nil {
				return err
			}
			return printJSON(hospital)
		},
	}
	createCmd.Flags().String("nome", "", "Hospital name")
	createCmd.Flags().String("cnpj", "", "Hospital CNPJ")
	_ = createCmd.MarkFlagRequired("nome")
	cmd.AddCommand(createCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a staff member of a hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospital, _ := cmd.Flags().GetString("hospital")
			hospitalID, err := uuid.Parse(hospital)
			if err != nil {
				return fmt.Errorf("invalid --hospital: %w", err)
			}
			input := identity.RegisterUserInput{HospitalID: hospitalID}
			input.Email, _ = cmd.Flags().GetString("email")
			input.Nome, _ = cmd.Flags().GetString("nome")
			input.Role, _ = cmd.Flags().GetString("role")
			input.CRM, _ = cmd.Flags().GetString("crm")
			input.Subject, _ = cmd.Flags().GetString("subject")
			input.PodeVerTodosPacientes, _ = cmd.Flags().GetBool("view-all")

			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			user, err := identity.NewService(identity.NewRepository(db)).RegisterUser(cmd.Context(), input)
			if err != nil {
				return err
			}
			return printJSON(user)
		},
	}
	createCmd.Flags().String("hospital", "", "Hospital id")
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("nome", "", "Full name")
	createCmd.Flags().String("role", "MEDICO", "ADMIN, GESTOR or MEDICO")
	createCmd.Flags().String("crm", "", "Medical licence, required for MEDICO")
	createCmd.Flags().String("subject", "", "Identity provider subject, bound on first login when empty")
	createCmd.Flags().Bool("view-all", false, "Doctor may see every patient of the hospital")
	_ = createCmd.MarkFlagRequired("hospital")
	_ = createCmd.MarkFlagRequired("email")
	cmd.AddCommand(createCmd)

	return cmd
}

// knowledgeEnv opens the postgres store and an embedder for the knowledge subcommands.
type knowledgeEnv struct {
	cfg      *config.Config
	db       *gorm.DB
	store    *knowledge.PostgresStore
	embedder embedding.Embedder
}

func openKnowledge() (*knowledgeEnv, error) {
	cfg, db, err := openDB()
	if err != nil {
		return nil, err
	}
	store := knowledge.NewPostgresStore(db)
	if err := store.AutoMigrate(); err != nil {
		database.ClosePostgres(db)
		return nil, fmt.Errorf("migrate knowledge: %w", err)
	}
	embedder := embedding.NewClient(embedding.Config{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.EmbeddingTimeout,
	}, httpclient.New(cfg.EmbeddingTimeout))
	return &knowledgeEnv{cfg: cfg, db: db, store: store, embedder: embedder}, nil
}

func (e *knowledgeEnv) close() { database.ClosePostgres(e.db) }

func (e *knowledgeEnv) ingest(ctx context.Context, docs []knowledge.Document) error {
	ingester := knowledge.NewIngester(e.store, e.embedder, knowledge.IngestOptions{
		Workers:       e.cfg.IngestWorkers,
		RetryAttempts: e.cfg.IngestRetryAttempts,
		RetryDelay:    500 * time.Millisecond,
	})
	report, err := ingester.Ingest(ctx, docs)
	if err != nil {
		return err
	}
	for source, failure := range report.Failed {
		logger.Log.WithError(failure).WithField("source_id", source).Error("document not ingested")
	}
	logger.Log.WithField("inserted", len(report.Inserted)).WithField("failed", len(report.Failed)).Info("ingestion finished")
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d documents failed", len(report.Failed), len(docs))
	}
	return nil
}

func knowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Maintain the clinical protocol base",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the starter protocols and leaflets",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openKnowledge()
			if err != nil {
				return err
			}
			defer env.close()
			return env.ingest(cmd.Context(), knowledge.SeedDocuments())
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed and store the documents of a YAML manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			docs, err := knowledge.LoadDocuments(path)
			if err != nil {
				return err
			}
			env, err := openKnowledge()
			if err != nil {
				return err
			}
			defer env.close()
			return env.ingest(cmd.Context(), docs)
		},
	}
	ingestCmd.Flags().StringP("file", "f", "", "Manifest path")
	_ = ingestCmd.MarkFlagRequired("file")

	retireCmd := &cobra.Command{
		Use:   "retire <id>",
		Short: "Mark a knowledge item as expired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)
			if err := knowledge.NewPostgresStore(db).Retire(cmd.Context(), id); err != nil {
				return err
			}
			logger.Log.WithField("id", id).Info("knowledge item retired")
			return nil
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Show the items a query would retrieve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hospital, _ := cmd.Flags().GetString("hospital")
			limit, _ := cmd.Flags().GetInt("limit")

			var scope tenant.Scope
			if hospital != "" {
				id, err := uuid.Parse(hospital)
				if err != nil {
					return fmt.Errorf("invalid --hospital: %w", err)
				}
				scope.HospitalID = id
			}

			env, err := openKnowledge()
			if err != nil {
				return err
			}
			defer env.close()

			vector, err := env.embedder.Embed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			retriever := knowledge.NewRetriever(env.store, env.cfg.EmbeddingDimensions, knowledge.Options{})
			items, err := retriever.Search(cmd.Context(), scope, vector, limit, 0)
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Printf("%.3f  %s  %s  %s\n", item.Similarity, item.ID, item.SourceType, item.SourceTitle)
			}
			return nil
		},
	}
	searchCmd.Flags().String("hospital", "", "Include items owned by this hospital")
	searchCmd.Flags().Int("limit", 5, "Maximum results")

	cmd.AddCommand(seedCmd, ingestCmd, retireCmd, searchCmd)
	return cmd
}
