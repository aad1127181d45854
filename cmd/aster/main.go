package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/asterhq/aster/internal/profile"
	"github.com/asterhq/aster/server/ai"
	apiv1 "github.com/asterhq/aster/server/router/api/v1"
	"github.com/asterhq/aster/store"
	"github.com/asterhq/aster/store/db"
)

const version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "aster",
	Short: "A personal coaching service built around an LLM conversation orchestrator.",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8082)
	viper.SetDefault("data", "")
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8082, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, can be "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database source name")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("aster")
	viper.AutomaticEnv()
}

func run() error {
	prof := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Secret:  viper.GetString("secret"),
		Version: version,
	}
	prof.FromEnv()
	if err := prof.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	if prof.Secret == "" {
		return fmt.Errorf("token secret is required, set ASTER_SECRET")
	}

	level := slog.LevelInfo
	if prof.IsDev() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	driver, err := db.NewDBDriver(prof)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	st := store.New(driver, prof)
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	provider, err := ai.NewProviderFromProfile(prof)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	if err := provider.Validate(); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	apiService := apiv1.NewAPIV1Service(prof.Secret, prof, st, provider)
	apiService.Register(e)

	address := fmt.Sprintf("%s:%d", prof.Addr, prof.Port)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server started", "address", address, "version", version, "mode", prof.Mode)
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		slog.Info("shutting down")
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
