// v2
// cmd/sink/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"chainsink/internal/admin"
	"chainsink/internal/scylla"
	"chainsink/internal/sink"
	"chainsink/internal/source"
	"chainsink/internal/types"
)

func main() {
	propsPath := flag.String("props", "./sink.properties", "Path to the sink properties file")
	addr := flag.String("addr", ":8090", "Admin HTTP listen address")
	logDir := flag.String("logs", "./logs", "Logs directory for file output")
	flag.Parse()

	if err := os.MkdirAll(*logDir, 0o755); err != nil {
		panic(err)
	}
	logPath := filepath.Join(*logDir, "sink.log")
	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	var logger *slog.Logger
	if err != nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
		logger.Error("log_file_open_failed", "path", logPath, "err", err)
	} else {
		defer lf.Close()
		mw := io.MultiWriter(os.Stdout, lf)
		logger = slog.New(slog.NewJSONHandler(mw, nil))
	}
	slog.SetDefault(logger)

	cfg := sink.LoadProps(*propsPath)
	env := fromEnv()

	etcd, err := clientv3.New(clientv3.Config{
		Endpoints:   env.etcdEndpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		logger.Error("etcd_connect_failed", "endpoints", env.etcdEndpoints, "err", err)
		os.Exit(1)
	}
	defer etcd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := sink.New(ctx, cfg, scylla.Config{
		Hosts:    env.scyllaHosts,
		Username: env.scyllaUsername,
		Password: env.scyllaPassword,
		Keyspace: cfg.Keyspace,
	}, etcd, env.initialSlot, logger)
	if err != nil {
		logger.Error("sink_start_failed", "err", err)
		os.Exit(1)
	}

	srv := admin.NewServer(*addr, s.Ready, logger)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin_server", "err", err)
		}
	}()

	consumer := source.NewConsumer(source.Config{
		Brokers: env.kafkaBrokers,
		Topic:   env.kafkaTopic,
		GroupID: env.kafkaGroup,
	}, s, logger)
	sourceDone := make(chan error, 1)
	go func() { sourceDone <- consumer.Run(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	select {
	case <-sig:
		logger.Info("signal_received")
	case <-s.LockDone():
		logger.Error("producer_lock_lost")
		exitCode = 1
	case err := <-sourceDone:
		if err != nil {
			logger.Error("source_failed", "err", err)
			exitCode = 1
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error("sink_shutdown_err", "err", err)
		exitCode = 1
	}
	_ = srv.Shutdown(shutdownCtx)
	os.Exit(exitCode)
}

type envConfig struct {
	scyllaHosts    []string
	scyllaUsername string
	scyllaPassword string
	etcdEndpoints  []string
	kafkaBrokers   []string
	kafkaTopic     string
	kafkaGroup     string
	initialSlot    types.Slot
}

func fromEnv() envConfig {
	cfg := envConfig{
		scyllaHosts:   []string{"scylla:9042"},
		etcdEndpoints: []string{"etcd:2379"},
		kafkaBrokers:  []string{"kafka:9092"},
		kafkaTopic:    "chain.events",
		kafkaGroup:    "chainsink",
		initialSlot:   types.UndefinedSlot,
	}
	if v := os.Getenv("SCYLLA_HOSTS"); v != "" {
		cfg.scyllaHosts = splitCSV(v)
	}
	cfg.scyllaUsername = os.Getenv("SCYLLA_USERNAME")
	cfg.scyllaPassword = os.Getenv("SCYLLA_PASSWORD")
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		cfg.etcdEndpoints = splitCSV(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.kafkaBrokers = splitCSV(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.kafkaTopic = v
	}
	if v := os.Getenv("KAFKA_GROUP"); v != "" {
		cfg.kafkaGroup = v
	}
	if v := os.Getenv("INITIAL_SLOT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.initialSlot = types.Slot(n)
		}
	}
	return cfg
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
