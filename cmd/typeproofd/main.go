// typeproofd serves the typeproof HTTP API: fingerprint extraction,
// commitment building, local verification and ledger submission.
//
// Usage:
//
//	typeproofd [-config path] [-listen addr]
//
// SIGINT/SIGTERM shut the server down gracefully; SIGHUP reopens the
// log file. Edits to the config file are picked up without a restart.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"typeproof/internal/api"
	"typeproof/internal/bootstrap"
	"typeproof/internal/config"
	"typeproof/internal/health"
	"typeproof/internal/logging"
	"typeproof/internal/metrics"
	"typeproof/internal/signer"
	"typeproof/internal/store"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default: "+config.ConfigPath()+")")
	listen := flag.String("listen", "", "override server.listen_addr")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("typeproofd %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return
	}

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "typeproofd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listenOverride string) error {
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer loader.Close()
	if listenOverride != "" {
		cfg.Server.ListenAddr = listenOverride
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg, err := logging.FromSettings(cfg.Logging, "typeproofd")
	if err != nil {
		return err
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)
	for _, w := range cfg.Warnings() {
		log.Warn("config", "field", w.Field, "message", w.Message)
	}

	auditCfg := logging.DefaultAuditConfig()
	auditCfg.FilePath = filepath.Join(config.DataDir(), "audit.log")
	auditCfg.Component = "typeproofd"
	audit, err := logging.NewAuditLogger(auditCfg)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer audit.Close()

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  logging.DefaultCrashDir(),
		Version:   version,
		Component: "typeproofd",
		OnCrash: func(r logging.CrashReport) {
			log.Error("recovered panic", "value", r.PanicValue, "context", r.Context)
		},
	})
	_ = crash.CleanupOldCrashReports(30 * 24 * time.Hour)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
	}

	var st *store.Store
	if cfg.Storage.Enabled {
		st, err = store.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		checker.RegisterStore(st)
		if stats, err := st.GetStats(ctx); err == nil {
			m.SetStored(stats.Commitments)
		}
	}

	ledgers, err := bootstrap.OpenLedgers(ctx, cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledgers.Close()
	checker.RegisterLedger(ledgers.Active)

	keySigner, err := bootstrap.LoadSigner(cfg.Signing)
	if cfg.Signing.Enabled {
		fp := ""
		if keySigner != nil {
			fp = keySigner.Fingerprint()
		}
		_ = audit.LogKeyLoaded(ctx, fp, err)
		checker.RegisterSigningKey(cfg.Signing.KeyPath, fp)
	}
	if err != nil {
		return err
	}

	apiCfg := api.Config{
		Builder:       bootstrap.NewBuilder(cfg, keySigner),
		Classifier:    bootstrap.NewClassifier(cfg),
		VerifyOptions: bootstrap.VerifyOptions(cfg),
		Ledger:        ledgers.Active,
		Metrics:       m,
		MetricsPath:   cfg.Metrics.Path,
		Health:        checker,
		Logger:        log.WithComponent("api"),
		Audit:         audit,
		Crash:         crash,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		RateLimit:     cfg.Server.RateLimitPerSec,
		RateBurst:     cfg.Server.RateLimitBurst,
	}
	if st != nil {
		apiCfg.Store = st
	}
	srv, err := api.New(apiCfg)
	if err != nil {
		return err
	}

	watchConfig(ctx, loader, srv, keySigner, audit, log, crash)
	go handleHangup(ctx, log, crash)

	l, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.ListenAddr, err)
	}

	checker.SetReady(true)
	_ = audit.LogStartup(ctx, version, map[string]interface{}{
		"listen":  l.Addr().String(),
		"ledger":  ledgers.Active.Name(),
		"storage": cfg.Storage.Enabled,
		"signing": keySigner != nil,
	})
	log.Info("typeproofd started",
		"version", version,
		"listen", l.Addr().String(),
		"ledger", ledgers.Active.Name(),
		"config", configPath)

	err = srv.Serve(ctx, l,
		time.Duration(cfg.Server.ReadTimeoutSec)*time.Second,
		time.Duration(cfg.Server.WriteTimeoutSec)*time.Second,
		shutdownTimeout)
	checker.SetReady(false)

	reason := "signal"
	if err != nil {
		reason = err.Error()
	}
	_ = audit.LogShutdown(context.Background(), reason)
	log.Info("typeproofd stopped", "reason", reason)
	return err
}

// watchConfig rebuilds the classifier, builder and verification options
// when the classifier or verify sections change. Other sections are held
// back by the loader until restart.
func watchConfig(ctx context.Context, loader *config.Loader, srv *api.Server, s *signer.KeySigner,
	audit *logging.AuditLogger, log *logging.Logger, crash *logging.CrashHandler) {
	loader.OnChange(func(cfg *config.Config, changed []string) {
		srv.Reconfigure(bootstrap.NewBuilder(cfg, s), bootstrap.NewClassifier(cfg), bootstrap.VerifyOptions(cfg))
		_ = audit.LogConfigChange(ctx, loader.Path())
		log.Info("configuration reloaded", "path", loader.Path(), "sections", changed)
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "error", err)
		return
	}

	go func() {
		defer crash.RecoverGoroutine("config-errors")
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-loader.Errors():
				if !ok {
					return
				}
				if errors.Is(err, config.ErrRestartRequired) {
					log.Warn("config change pending restart", "error", err)
					continue
				}
				log.Error("config reload rejected", "error", err)
			}
		}
	}()
}

func handleHangup(ctx context.Context, log *logging.Logger, crash *logging.CrashHandler) {
	defer crash.RecoverGoroutine("sighup")
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := log.Rotate(); err != nil {
				log.Error("log rotation failed", "error", err)
				continue
			}
			log.Info("log file reopened")
		}
	}
}
