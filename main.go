package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-gateway/internal/config"
	"github.com/OliverSchlueter/mail-gateway/internal/credentials"
	"github.com/OliverSchlueter/mail-gateway/internal/credentials/database/fake"
	"github.com/OliverSchlueter/mail-gateway/internal/relay"
	"github.com/OliverSchlueter/mail-gateway/internal/sendhandler"
)

func main() {
	cfg := loadConfig()

	lokiService := sloki.NewService(sloki.Configuration{
		URL:          cfg.Logging.LokiURL,
		Service:      "mail-gateway",
		ConsoleLevel: consoleLevel(cfg.Logging.Level),
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   cfg.Logging.EnableLoki,
	})
	slog.SetDefault(slog.New(lokiService))

	cs := credentials.NewStore(credentials.Configuration{
		DB: fake.NewDB(),
	})
	for _, pair := range cfg.Credentials {
		cred, err := credentials.ParsePair(pair)
		if err != nil {
			slog.Error("Invalid credential pair", sloki.WrapError(err))
			os.Exit(1)
		}
		if err := cs.Create(cred); err != nil {
			slog.Error("Failed to register credential", slog.String("identity", cred.Identity), sloki.WrapError(err))
			os.Exit(1)
		}
	}
	if len(cfg.Credentials) == 0 {
		slog.Warn("No credentials configured, every request will be refused")
	}

	var signer *relay.Signer
	if cfg.DKIM.KeyFile != "" {
		s, err := relay.NewSigner(cfg.DKIM.Domain, cfg.DKIM.Selector, cfg.DKIM.KeyFile)
		if err != nil {
			slog.Error("Failed to load DKIM key", sloki.WrapError(err))
			os.Exit(1)
		}
		signer = s
	}

	dispatcher := relay.NewClient(relay.Configuration{
		Host:           cfg.Relay.Host,
		Port:           cfg.Relay.Port,
		ConnectTimeout: cfg.Relay.ConnectTimeout.Duration(),
		CommandTimeout: cfg.Relay.CommandTimeout.Duration(),
		Signer:         signer,
	})

	mux := http.NewServeMux()
	handler := sendhandler.New(sendhandler.Configuration{
		Credentials: cs,
		Dispatcher:  dispatcher,
	})
	handler.Register("", mux)

	slog.Info("Started HTTP mail gateway", slog.String("addr", cfg.Listen), slog.String("relay", cfg.Relay.Host+":"+cfg.Relay.Port))
	if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
		slog.Error("HTTP server stopped", sloki.WrapError(err))
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	path := os.Getenv("GATEWAY_CONFIG")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	if path == "" {
		cfg, _ := config.Load()
		return cfg
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func consoleLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
