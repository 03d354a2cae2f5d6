package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RidingLiquid/silverback-x402-mcp/catalog"
	"github.com/RidingLiquid/silverback-x402-mcp/config"
	"github.com/RidingLiquid/silverback-x402-mcp/dispatch"
	httpapi "github.com/RidingLiquid/silverback-x402-mcp/http-api"
	"github.com/RidingLiquid/silverback-x402-mcp/logging"
	mcpserver "github.com/RidingLiquid/silverback-x402-mcp/mcp"
	"github.com/RidingLiquid/silverback-x402-mcp/x402"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	transport string
	addr      string
	sandbox   string
	envFile   string
}

func main() {
	var opts options
	flag.StringVar(&opts.transport, "transport", "stdio", "MCP transport: stdio or http")
	flag.StringVar(&opts.addr, "addr", ":8080", "listen address for the http transport")
	flag.StringVar(&opts.sandbox, "sandbox", "", "serve a local paywalled sandbox API on this address and call it instead of SILVERBACK_API_URL")
	flag.StringVar(&opts.envFile, "env-file", "", "load environment variables from this file (default ./.env when present)")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "silverback-x402-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.transport != "stdio" && opts.transport != "http" {
		return fmt.Errorf("unknown transport %q (want stdio or http)", opts.transport)
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	account, err := x402.NewAccount(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("PRIVATE_KEY: %w", err)
	}
	maxPayment, err := cfg.MaxPayment(6)
	if err != nil {
		return err
	}

	c, err := catalog.Default()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)

	apiURL := cfg.APIURL
	if opts.sandbox != "" {
		apiURL, err = startSandbox(ctx, opts.sandbox, c, logger)
		if err != nil {
			return err
		}
	}

	executorOpts := []x402.ExecutorOption{x402.WithLogger(logger)}
	if cfg.CDPAPIKey != "" {
		executorOpts = append(executorOpts, x402.WithAuthProvider(x402.NewCDPAuthProvider(cfg.CDPAPIKey, cfg.CDPAPIKeySecret)))
	}
	if maxPayment != nil {
		executorOpts = append(executorOpts, x402.WithMaxAmount(maxPayment))
	}
	executor := x402.NewExecutor(x402.NewSchemeRegistry(x402.NewExactEVMScheme(account)), executorOpts...)
	dispatcher := dispatch.New(c, executor, apiURL, logger)

	server, err := mcpserver.NewServer(c, dispatcher,
		mcpserver.DefaultInfo(apiURL, account.Address().Hex()),
		mcpserver.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	logger.Info("starting silverback mcp",
		zap.String("transport", opts.transport),
		zap.String("api_url", apiURL),
		zap.String("wallet", account.Address().Hex()),
		zap.Int("tools", c.Len()),
		zap.Bool("max_payment", maxPayment != nil),
		zap.Bool("cdp_auth", cfg.CDPAPIKey != ""),
	)

	if opts.transport == "http" {
		return serveHTTP(ctx, opts.addr, httpapi.NewRouter(server, logger), logger)
	}
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startSandbox serves the paywalled sandbox in the background and returns its base URL.
func startSandbox(ctx context.Context, addr string, c *catalog.Catalog, logger *zap.Logger) (string, error) {
	paywall, err := x402.NewPaywall(httpapi.SandboxPayTo, httpapi.SandboxNetwork)
	if err != nil {
		return "", err
	}
	sandbox, err := httpapi.NewSandbox(c, paywall, logger.Named("sandbox"))
	if err != nil {
		return "", err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("sandbox listen %s: %w", addr, err)
	}
	host := listener.Addr().String()
	if tcp, ok := listener.Addr().(*net.TCPAddr); ok && tcp.IP.IsUnspecified() {
		host = net.JoinHostPort("127.0.0.1", fmt.Sprint(tcp.Port))
	}
	baseURL := "http://" + host

	srv := &http.Server{Handler: sandbox, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("sandbox stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("sandbox listening", zap.String("url", baseURL), zap.String("network", httpapi.SandboxNetwork))
	return baseURL, nil
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http transport listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
