package main

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-gateway/internal/credentials"
	"github.com/OliverSchlueter/mail-gateway/internal/credentials/database/fake"
	"github.com/OliverSchlueter/mail-gateway/internal/relay"
	"github.com/OliverSchlueter/mail-gateway/internal/sendhandler"
	"github.com/OliverSchlueter/mail-gateway/internal/smtpsink"
)

const listenAddr = "localhost:8000"

func main() {
	lokiService := sloki.NewService(sloki.Configuration{
		URL:          "http://localhost:3100/loki/api/v1/push",
		Service:      "mail-gateway-e2e",
		ConsoleLevel: slog.LevelDebug,
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   false,
	})
	slog.SetDefault(slog.New(lokiService))

	// SMTP sink standing in for the local MTA
	sink := smtpsink.NewServer(smtpsink.Configuration{
		Hostname: "localhost",
	})
	if err := sink.Start("127.0.0.1:0"); err != nil {
		slog.Error("Failed to start SMTP sink", sloki.WrapError(err))
		os.Exit(1)
	}
	defer sink.Close()
	slog.Info("Started SMTP sink", slog.String("addr", sink.Addr()))

	host, port, err := net.SplitHostPort(sink.Addr())
	if err != nil {
		slog.Error("Failed to split sink address", sloki.WrapError(err))
		os.Exit(1)
	}

	// credentials
	cs := credentials.NewStore(credentials.Configuration{
		DB: fake.NewDB(),
	})
	_ = cs.Create(credentials.Credential{
		Identity: "oliver@localhost",
		KeyHash:  credentials.HashKey("oliver123"),
	})

	// gateway
	mux := http.NewServeMux()
	handler := sendhandler.New(sendhandler.Configuration{
		Credentials: cs,
		Dispatcher: relay.NewClient(relay.Configuration{
			Host: host,
			Port: port,
		}),
	})
	handler.Register("", mux)

	go func() {
		if err := http.ListenAndServe(listenAddr, mux); err != nil {
			slog.Error("HTTP server stopped", sloki.WrapError(err))
			os.Exit(1)
		}
	}()
	slog.Info("Started HTTP mail gateway", slog.String("addr", listenAddr))
	time.Sleep(100 * time.Millisecond)

	// push one two-part mail through the whole pipeline
	body := "hello from the e2e run\n-----END-TEXT-BEGIN-HTML-----\n<p>hello from the e2e run</p>"
	req, err := http.NewRequest(http.MethodPost, "http://"+listenAddr+"/send-email", strings.NewReader(body))
	if err != nil {
		slog.Error("Failed to build request", sloki.WrapError(err))
		os.Exit(1)
	}
	req.Header.Set("Api-Key", "oliver123")
	req.Header.Set("From", "oliver@localhost")
	req.Header.Set("To", "peter@localhost")
	req.Header.Set("Subject", "e2e test")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Error("Failed to send request", sloki.WrapError(err))
		os.Exit(1)
	}
	resp.Body.Close()
	slog.Info("Gateway responded", slog.String("status", resp.Status))

	for _, m := range sink.Mails() {
		slog.Info("Sink received mail", slog.String("from", m.From), slog.Any("to", m.To), slog.Int("lines", len(m.Data)))
	}

	if resp.StatusCode != http.StatusOK || len(sink.Mails()) != 1 {
		slog.Error("e2e run failed")
		os.Exit(1)
	}
	slog.Info("e2e run succeeded")
}
