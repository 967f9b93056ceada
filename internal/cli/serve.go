package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphlabs/ralphd/internal/approval"
	"github.com/ralphlabs/ralphd/internal/chat"
	"github.com/ralphlabs/ralphd/internal/config"
	"github.com/ralphlabs/ralphd/internal/events"
	"github.com/ralphlabs/ralphd/internal/llm"
	"github.com/ralphlabs/ralphd/internal/orchestrator"
	"github.com/ralphlabs/ralphd/internal/store"
	"github.com/ralphlabs/ralphd/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator daemon",
	Long: `Start the HTTP API and WebSocket event stream, resume any pipelines
that were running when the process last exited, and (when configured)
connect the Telegram bridge. Runs until SIGINT.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		configPath, _ := cmd.Flags().GetString("config")
		return runServe(port, configPath)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to config file")
}

func runServe(port int, configPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return err
	}
	config.LoadEnv(cfg)
	if port != 0 {
		cfg.Server.Port = port
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	recorder, err := events.Open(cfg.Events.DSN, logger)
	if err != nil {
		return fmt.Errorf("open event mirror: %w", err)
	}
	defer recorder.Close()

	client := llm.NewClient(llm.ConfigFromEnv(), llm.WithLogger(logger))
	broadcaster := orchestrator.NewBroadcaster(logger)
	oracle := approval.NewOracle(nil)

	registry := orchestrator.NewRegistry(orchestrator.RegistryConfig{
		Store:       st,
		LLM:         client,
		Events:      recorder,
		Broadcaster: broadcaster,
		Oracle:      oracle,
		Logger:      logger,
	})

	bridges := &bridgeManager{
		registry: registry,
		oracle:   oracle,
		logger:   logger,
		defaults: cfg.Chat,
	}
	bridges.apply(st.Settings())

	registry.ResumeOnStart()

	server := web.New(web.Config{
		Store:       st,
		Registry:    registry,
		Broadcaster: broadcaster,
		Events:      recorder,
		Logger:      logger,
		OnSettings:  bridges.apply,
		Port:        cfg.Server.Port,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		bridges.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// bridgeManager owns the chat bridge lifecycle so a settings replacement
// can tear down and rebuild it.
type bridgeManager struct {
	mu       sync.Mutex
	bridge   *chat.Bridge
	registry *orchestrator.Registry
	oracle   *approval.Oracle
	logger   *slog.Logger
	defaults config.Chat
}

func (m *bridgeManager) apply(settings store.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bridge != nil {
		m.bridge.Stop()
		m.bridge = nil
		m.oracle.SetNotifier(nil)
	}

	token := settings.Chat.Token
	chatID := settings.Chat.ChatID
	if token == "" {
		token = m.defaults.Token
	}
	if chatID == "" {
		chatID = m.defaults.ChatID
	}
	if !settings.Chat.Enabled || token == "" || chatID == "" {
		return
	}

	bridge := chat.New(token, chatID, m.registry, m.oracle, m.logger)
	m.oracle.SetNotifier(bridge)
	m.bridge = bridge
	go bridge.Run(context.Background())
}

func (m *bridgeManager) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bridge != nil {
		m.bridge.Stop()
		m.bridge = nil
	}
}
