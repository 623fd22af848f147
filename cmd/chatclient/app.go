package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/whisper/chat-client/internal/auth"
	"github.com/whisper/chat-client/internal/config"
	"github.com/whisper/chat-client/internal/messaging"
	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/realtime"
	"github.com/whisper/chat-client/internal/session"
	"github.com/whisper/chat-client/internal/view"
)

type clientOptions struct {
	tab            view.Tab
	requireSession bool
}

// loadConfig reads the configuration and points the log at --log-file when
// given. The returned func restores stderr logging and closes the file.
func loadConfig() (config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
		if err := cfg.Validate(); err != nil {
			return config.Config{}, nil, err
		}
	}

	closeLog := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
		closeLog = func() {
			log.SetOutput(os.Stderr)
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
			}
		}
	}
	return cfg, closeLog, nil
}

// openSessionStore builds the configured backend. The returned func releases
// it.
func openSessionStore(cfg config.Config) (*session.Store, func(), error) {
	switch cfg.Session.Backend {
	case config.BackendRedis:
		backend, err := session.NewRedisBackend(cfg.Session.RedisAddr, cfg.Origin())
		if err != nil {
			return nil, nil, err
		}
		return session.NewStore(backend), func() {
			if err := backend.Close(); err != nil {
				log.Printf("[session] redis close error: %v", err)
			}
		}, nil

	case config.BackendMemory:
		return session.NewStore(session.NewMemoryBackend()), func() {}, nil

	default:
		backend, err := session.NewFileBackend(cfg.Session.File, cfg.Origin())
		if err != nil {
			return nil, nil, err
		}
		return session.NewStore(backend), func() {}, nil
	}
}

func runClient(parent context.Context, opts clientOptions) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	authClient, err := auth.NewClient(cfg.ServerURL, auth.WithTimeout(cfg.AuthTimeout))
	if err != nil {
		return err
	}
	server, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}

	var transcript io.Writer
	if cfg.TranscriptFile != "" {
		f, err := os.OpenFile(cfg.TranscriptFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		defer f.Close()
		transcript = f
	}
	term := view.NewTerminal(os.Stdout, transcript)

	var mirror view.Mirror
	if cfg.NATS.URL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATS.URL
		natsClient, err := messaging.NewNATSClient(natsConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()
		mirror = messaging.NewMirror(natsClient, cfg.NATS.Subject)
	}

	if cfg.Metrics.Addr != "" {
		srv := startMetrics(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Printf("chatclient starting")
	log.Printf("  server_url:      %s", cfg.ServerURL)
	log.Printf("  session_backend: %s", cfg.Session.Backend)
	log.Printf("  nats_url:        %s", cfg.NATS.URL)
	log.Printf("  metrics_addr:    %s", cfg.Metrics.Addr)

	controller, err := view.NewController(view.Config{
		Store:          store,
		Auth:           authClient,
		Server:         server,
		Dialer:         realtime.WSDialer{Timeout: cfg.DialTimeout},
		View:           term,
		Mirror:         mirror,
		InitialTab:     opts.tab,
		RequireSession: opts.requireSession,
	})
	if err != nil {
		return err
	}

	actions := make(chan view.Action)
	go readActions(ctx, os.Stdin, actions, term)

	err = controller.Run(ctx, actions)
	switch {
	case errors.Is(err, view.ErrNotAuthenticated):
		return fmt.Errorf("not logged in: run 'chatclient login' first")
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// maxLineBytes bounds one input line. Longer lines are skipped with a notice.
var maxLineBytes = 1 << 20

var errLineTooLong = errors.New("input line too long")

// readActions feeds parsed input lines to the controller until EOF, /quit or
// ctx is done, then closes actions.
func readActions(ctx context.Context, in io.Reader, actions chan<- view.Action, term *view.Terminal) {
	defer close(actions)

	r := bufio.NewReader(in)
	for {
		line, err := readLine(r, maxLineBytes)
		if errors.Is(err, errLineTooLong) {
			term.Notice(fmt.Sprintf("line skipped: longer than %d bytes", maxLineBytes))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[input] read error: %v", err)
			}
			return
		}

		action, err := view.ParseInput(line)
		if errors.Is(err, view.ErrQuit) {
			return
		}
		if err != nil {
			term.Notice(err.Error())
			continue
		}
		select {
		case actions <- action:
		case <-ctx.Done():
			return
		}
	}
}

// readLine returns the next line without its terminator. A final line with
// no newline is returned with a nil error; io.EOF comes on the next call. A
// line over max bytes is consumed and reported as errLineTooLong.
func readLine(r *bufio.Reader, max int) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) > max {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = r.ReadSlice('\n')
			}
			return "", errLineTooLong
		}
		buf = append(buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && (len(buf) == 0 || !errors.Is(err, io.EOF)) {
			return "", err
		}
		return strings.TrimRight(string(buf), "\r\n"), nil
	}
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Printf("[metrics] listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
	return srv
}
