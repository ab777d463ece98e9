package main

import (
    "context"
    "errors"
    "io/fs"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "github.com/inspircd/inspircd-sub009/pkg/config"
    "github.com/inspircd/inspircd-sub009/pkg/daemon"
    "github.com/inspircd/inspircd-sub009/pkg/mesh"
    "github.com/inspircd/inspircd-sub009/pkg/observability"
    "github.com/inspircd/inspircd-sub009/pkg/status"
    "github.com/inspircd/inspircd-sub009/pkg/transport/mem"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    if opts.EnvFile != "" {
        if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
            _, _ = os.Stderr.WriteString("failed to load env file: " + err.Error() + "\n")
            return 1
        }
    }

    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("ircmesh-node starting", zap.String("server", cfg.Server.Name), zap.String("version", cfg.Server.Version))
    zap.L().Debug("effective configuration", zap.Any("config", cfg))

    reg := prometheus.NewRegistry()
    reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    metrics := observability.NewMetrics(reg)
    board := &status.Board{}

    d, err := daemon.New(cfg,
        daemon.WithMetrics(metrics),
        daemon.WithBoard(board),
        daemon.WithMemTransport(mem.New()),
        daemon.WithPacketHandler(func(p mesh.Packet) {
            zap.L().Debug("packet", zap.String("peer", p.Peer), zap.String("line", p.Line))
        }),
    )
    if err != nil {
        zap.L().Error("failed to start daemon", zap.Error(err))
        return 1
    }
    d.Mesh().OnLinkStateChanged.RegisterNamed("log", func(ev mesh.LinkStateChanged) error {
        zap.L().Info("link state", zap.String("server", ev.Peer), zap.Stringer("from", ev.Old), zap.Stringer("to", ev.New), zap.String("reason", ev.Reason))
        return nil
    }, 0)

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()
    g, gctx := errgroup.WithContext(ctx)

    g.Go(func() error { return d.Run(gctx) })

    if cfg.Metrics.Listen != "" {
        codecs, err := status.NewRegistry()
        if err != nil {
            zap.L().Error("status codecs", zap.Error(err))
            return 1
        }
        srv := &http.Server{
            Addr:              cfg.Metrics.Listen,
            Handler:           status.NewRouter(board, codecs, observability.Handler(reg)),
            ReadHeaderTimeout: 5 * time.Second,
        }
        g.Go(func() error {
            zap.L().Info("http listening", zap.String("addr", cfg.Metrics.Listen))
            if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
                return err
            }
            return nil
        })
        g.Go(func() error {
            <-gctx.Done()
            sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
            defer cancel()
            return srv.Shutdown(sctx)
        })
    }

    if err := g.Wait(); err != nil {
        zap.L().Error("node stopped with error", zap.Error(err))
        return 1
    }
    zap.L().Info("node stopped")
    return 0
}
