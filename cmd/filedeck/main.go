package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"filedeck/internal/auth"
	"filedeck/internal/config"
	"filedeck/internal/httpserver"
	"filedeck/internal/logging"
	"filedeck/internal/metrics"
)

// staleUploadAge is how long an unfinished chunked upload is kept.
const staleUploadAge = 24 * time.Hour

func main() {
	if len(os.Args) > 1 && os.Args[1] == "passwd" {
		passwdCmd(os.Args[2:])
		return
	}

	var (
		addr     = flag.String("addr", "", "listen address (overrides config)")
		root     = flag.String("root", "", "directory to manage (overrides config)")
		stateDir = flag.String("state", "", "state dir for uploads and thumbnails")
		cfgPath  = flag.String("config", "", "path to YAML config (optional)")
	)
	flag.Parse()

	cfg, err := loadConfig(*cfgPath, *addr, *root, *stateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if cfg.Auth.RequireLogin && len(cfg.Auth.Users) == 0 {
		log.Warn("login is required but no users are configured; add users with `filedeck passwd`")
	}

	srv, err := httpserver.New(httpserver.Options{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(),
	})
	if err != nil {
		log.Fatal("server init", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sweepUploads(ctx, srv, log)

	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           withHeaders(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	log.Info("filedeck listening",
		zap.String("url", "http://"+cfg.Addr),
		zap.String("root", cfg.Root),
		zap.String("state", cfg.StateDir),
		zap.Bool("webdav", cfg.Auth.WebDAV))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("listen", zap.Error(err))
	}
	log.Info("shut down")
}

// loadConfig reads the config file and lets command-line flags win.
func loadConfig(path, addr, root, stateDir string) (config.Config, error) {
	return config.Load(path, func(c *config.Config) {
		if addr != "" {
			c.Addr = addr
		}
		if root != "" {
			c.Root = root
		}
		if stateDir != "" {
			c.StateDir = stateDir
		}
	})
}

func sweepUploads(ctx context.Context, srv *httpserver.Server, log *zap.Logger) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := srv.Uploads().Sweep(staleUploadAge); n > 0 {
				log.Info("stale uploads removed", zap.Int("count", n))
			}
		}
	}
}

func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password = fs.String("p", "", "password (prompted when empty)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	pw := *password
	if pw == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "usage: filedeck passwd -p <password>")
			os.Exit(2)
		}
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil || len(b) == 0 {
			fmt.Fprintln(os.Stderr, "no password given")
			os.Exit(2)
		}
		pw = string(b)
	}
	h, err := auth.HashPassword(pw, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bcrypt: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(h)
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		if strings.HasPrefix(r.URL.Path, "/assets/") {
			w.Header().Set("Cache-Control", "public, max-age=3600")
		} else {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}
