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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/shepherd/ai/configloader"
	"github.com/hrygo/shepherd/ai/core/llm"
	"github.com/hrygo/shepherd/ai/metrics"
	"github.com/hrygo/shepherd/ai/observability/logging"
	"github.com/hrygo/shepherd/ai/pastoral"
	"github.com/hrygo/shepherd/ai/routing"
	"github.com/hrygo/shepherd/internal/profile"
	"github.com/hrygo/shepherd/internal/version"
	"github.com/hrygo/shepherd/server"
	apiv1 "github.com/hrygo/shepherd/server/router/api/v1"
)

var (
	rootCmd = &cobra.Command{
		Use:          "shepherd",
		Short:        `AI completion routing for church ministry tools.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units provide the environment through EnvironmentFile.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 28090)

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 28090, "port of server")
	flags.String("config-dir", "", "directory holding routing.yaml and prompts/")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("provider", "", "LLM provider (openai, deepseek, siliconflow, zai, dashscope, openrouter, ollama)")
	flags.String("model-premium", "", "premium model name")
	flags.String("model-compact", "", "compact model name")
	flags.Bool("compact-mode", false, "start with compact mode enabled")

	for _, name := range []string{"mode", "addr", "port", "config-dir", "log-level", "provider", "model-premium", "model-compact", "compact-mode"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("shepherd")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newCompleteCmd(), newStreamCmd(), newVersionCmd())
}

// loadProfile builds the instance profile from flags, then the environment.
func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:         viper.GetString("mode"),
		Addr:         viper.GetString("addr"),
		Port:         viper.GetInt("port"),
		ConfigDir:    viper.GetString("config-dir"),
		LogLevel:     viper.GetString("log-level"),
		LLMProvider:  viper.GetString("provider"),
		ModelPremium: viper.GetString("model-premium"),
		ModelCompact: viper.GetString("model-compact"),
		CompactMode:  viper.GetBool("compact-mode"),
		Version:      version.String(),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	logging.Setup(logging.Options{Mode: instanceProfile.Mode, Level: instanceProfile.LogLevel})
	return instanceProfile, nil
}

// newRouter connects the LLM backend and loads the routing policy.
func newRouter(p *profile.Profile, opts ...routing.RouterOption) (*routing.Router, llm.Service, error) {
	if !p.IsAIEnabled() {
		slog.Warn("no LLM API key configured, completions will fail", "provider", p.LLMProvider)
	}

	service, err := llm.NewService(&llm.Config{
		Provider: p.LLMProvider,
		APIKey:   p.LLMAPIKey,
		BaseURL:  p.LLMBaseURL,
		Timeout:  p.LLMTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create llm service: %w", err)
	}

	cfg := routing.DefaultConfig()
	cfg.Models = routing.Models{Premium: p.ModelPremium, Compact: p.ModelCompact}
	cfg.CompactMode = p.CompactMode
	if p.HasRoutingFile() {
		cfg, err = configloader.NewLoader(p.ConfigDir).LoadRouting(p.RoutingConfig, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("load routing config: %w", err)
		}
		slog.Info("routing config loaded", "path", p.RoutingConfig, "premium", cfg.Models.Premium, "compact", cfg.Models.Compact)
	}

	router, err := routing.NewRouter(service, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return router, service, nil
}

func serve(ctx context.Context) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}

	exporter := metrics.NewPrometheusExporter(metrics.Config{RuntimeCollectors: true})
	router, service, err := newRouter(instanceProfile, routing.WithLogger(slog.Default()), routing.WithRecorder(exporter))
	if err != nil {
		return err
	}

	prompts := pastoral.DefaultPrompts()
	if instanceProfile.HasPromptDir() {
		prompts, err = pastoral.LoadPrompts(configloader.NewLoader(instanceProfile.ConfigDir), instanceProfile.PromptDir)
		if err != nil {
			return fmt.Errorf("load prompts: %w", err)
		}
	}
	generator := pastoral.NewGenerator(router, pastoral.WithPrompts(prompts))

	s, err := server.NewServer(ctx, instanceProfile, apiv1.NewAPIV1Service(instanceProfile, router, generator, exporter))
	if err != nil {
		return err
	}

	// SIGTERM is what process managers (systemd, kubernetes) send first.
	ctx, stop := signal.NotifyContext(ctx, terminationSignals...)
	defer stop()

	if instanceProfile.IsAIEnabled() {
		go service.Warmup(ctx, router.Config().Models.Compact)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Shutdown(context.WithoutCancel(gctx))
		return nil
	})

	printGreetings(instanceProfile, router)
	return g.Wait()
}

func printGreetings(profile *profile.Profile, router *routing.Router) {
	fmt.Printf("Shepherd %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}

	models := router.Config().Models
	fmt.Printf("LLM provider: %s\n", profile.LLMProvider)
	fmt.Printf("Models: premium=%s compact=%s\n", models.Premium, models.Compact)
	fmt.Printf("Compact mode: %t\n", router.CompactMode())
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
		fmt.Printf("Health check: http://localhost:%d/healthz\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
		fmt.Printf("Health check: http://%s:%d/healthz\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
