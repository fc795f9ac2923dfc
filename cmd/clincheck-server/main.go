package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clincheck/clincheck/internal/config"
	"github.com/clincheck/clincheck/internal/domain/project"
	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/domain/validation"
	"github.com/clincheck/clincheck/internal/platform/db"
	"github.com/clincheck/clincheck/internal/platform/fhir"
	"github.com/clincheck/clincheck/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clincheck-server",
		Short: "Rule-based validation server for FHIR bundles",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the validation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			answerSetsFile, _ := cmd.Flags().GetString("answer-sets")
			codeSystemsFile, _ := cmd.Flags().GetString("code-systems")
			return runServer(answerSetsFile, codeSystemsFile)
		},
	}
	cmd.Flags().String("answer-sets", "", "Path to a JSON file of answer-set definitions")
	cmd.Flags().String("code-systems", "", "Path to a JSON file of code-system memberships")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer(answerSetsFile, codeSystemsFile string) error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Reference data
	answerSets, err := loadAnswerSets(answerSetsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", answerSetsFile).Msg("failed to load answer sets")
	}
	codeIndex, err := loadCodeIndex(codeSystemsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", codeSystemsFile).Msg("failed to load code systems")
	}
	schemas := fhir.DefaultSchemas()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit("1M", "20M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Services
	projectRepo := project.NewRepoPG(pool)
	projectSvc := project.NewService(projectRepo)
	validationSvc := validation.NewService(codeIndex, schemas, answerSets)

	// Routes
	apiV1 := e.Group("/api/v1")
	project.NewHandler(projectSvc, schemas).RegisterRoutes(apiV1)
	validation.NewHandler(validationSvc, projectSvc).RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// loadAnswerSets reads answer-set definitions from a JSON file. A missing
// path yields an empty index; question-answer rules then fail evaluation
// until sets are provided.
func loadAnswerSets(path string) (rules.MapAnswerSetIndex, error) {
	index := rules.MapAnswerSetIndex{}
	if path == "" {
		return index, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sets []rules.AnswerSet
	if err := json.Unmarshal(data, &sets); err != nil {
		return nil, fmt.Errorf("decode answer sets: %w", err)
	}
	for i := range sets {
		index[sets[i].ID] = &sets[i]
	}
	return index, nil
}

// loadCodeIndex reads code-system memberships from a JSON file shaped
// {"system-url": ["code", ...], ...}.
func loadCodeIndex(path string) (validation.MapCodeIndex, error) {
	index := validation.MapCodeIndex{}
	if path == "" {
		return index, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var systems map[string][]string
	if err := json.Unmarshal(data, &systems); err != nil {
		return nil, fmt.Errorf("decode code systems: %w", err)
	}
	for system, codes := range systems {
		members := make(map[string]bool, len(codes))
		for _, c := range codes {
			members[c] = true
		}
		index[system] = members
	}
	return index, nil
}
