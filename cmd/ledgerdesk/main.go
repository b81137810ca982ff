package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/hrygo/ledgerdesk/accounting"
	"github.com/hrygo/ledgerdesk/ai/assembler"
	"github.com/hrygo/ledgerdesk/ai/cache"
	"github.com/hrygo/ledgerdesk/ai/conversation"
	"github.com/hrygo/ledgerdesk/ai/llm"
	"github.com/hrygo/ledgerdesk/ai/metrics"
	"github.com/hrygo/ledgerdesk/ai/tools"
	"github.com/hrygo/ledgerdesk/internal/profile"
	"github.com/hrygo/ledgerdesk/internal/version"
	"github.com/hrygo/ledgerdesk/recordstore"
	"github.com/hrygo/ledgerdesk/server"
	"github.com/hrygo/ledgerdesk/store"
	"github.com/hrygo/ledgerdesk/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerdesk",
	Short: `A conversational back office for small contracting businesses. Ask about clients, projects, permits, invoices, and estimates in plain language.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Systemd deployments configure through the unit environment.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:      viper.GetString("mode"),
			Addr:      viper.GetString("addr"),
			Port:      viper.GetInt("port"),
			Data:      viper.GetString("data"),
			Driver:    viper.GetString("driver"),
			DSN:       viper.GetString("dsn"),
			JWTSecret: viper.GetString("jwt-secret"),
			Version:   version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			cancel()
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			cancel()
			slog.Error("failed to migrate", "error", err)
			return
		}

		engine, exporter, err := buildEngine(instanceProfile)
		if err != nil {
			cancel()
			slog.Error("failed to build conversation engine", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, engine, exporter)
		if err != nil {
			cancel()
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal used by most process
		// managers, including Kubernetes.
		signal.Notify(c, terminationSignals...)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		printGreetings(instanceProfile)

		if err := s.Start(ctx); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start server", "error", err)
				cancel()
			}
		}

		<-ctx.Done()
	},
}

// buildEngine wires the collaborators into the turn engine. Unconfigured
// collaborators fall back to in-memory fakes so the server still runs in
// development.
func buildEngine(p *profile.Profile) (*conversation.Engine, *metrics.Exporter, error) {
	llmService, err := llm.NewService(&llm.Config{
		Provider: p.LLMProvider,
		Model:    p.LLMModel,
		APIKey:   p.LLMAPIKey,
		BaseURL:  p.LLMBaseURL,
		Timeout:  p.LLMTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	var records recordstore.Client
	if p.RecordStoreBaseURL != "" && p.SpreadsheetID != "" {
		records, err = recordstore.NewSheetsClient(recordstore.SheetsConfig{
			BaseURL:       p.RecordStoreBaseURL,
			SpreadsheetID: p.SpreadsheetID,
			APIKey:        p.RecordStoreAPIKey,
		})
		if err != nil {
			return nil, nil, err
		}
	} else {
		slog.Warn("record store not configured, using in-memory records")
		records = recordstore.NewMemoryClient()
	}

	var books accounting.Client
	if p.IsAccountingEnabled() {
		tokens := accounting.NewTokenManager(&oauth2.Config{
			ClientID:     p.AccountingClientID,
			ClientSecret: p.AccountingClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: p.AccountingTokenURL},
		}, p.AccountingRealmID, nil, nil)
		books, err = accounting.NewHTTPClient(accounting.HTTPConfig{
			BaseURL: p.AccountingBaseURL,
			RealmID: p.AccountingRealmID,
			Tokens:  tokens,
		})
		if err != nil {
			return nil, nil, err
		}
	} else {
		slog.Warn("accounting not configured, using in-memory books")
		books = accounting.NewMemoryClient()
	}

	downstreamCache := cache.New(time.Duration(p.CacheTTLSeconds) * time.Second)
	registry := tools.NewRegistry(downstreamCache)
	tools.RegisterRecordTools(registry, records)
	tools.RegisterAccountingTools(registry, books)

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.CacheStats = downstreamCache.Stats
	exporter := metrics.NewExporter(metricsCfg)
	engine := conversation.NewEngine(
		llmService,
		registry,
		assembler.New(registry, slog.Default()),
		conversation.Config{MaxRounds: p.MaxRounds},
		slog.Default(),
	)
	engine.SetRecorder(exporter)
	return engine, exporter, nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28091)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28091, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("jwt-secret", "", "secret used to sign API access tokens")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn", "jwt-secret"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("ledgerdesk")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("LedgerDesk %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
