package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ravi-kumar-24/distributed-search-frontend/internal/cluster"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/config"
	logpkg "github.com/ravi-kumar-24/distributed-search-frontend/internal/logger"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/model"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/node"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/rpc"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/search"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/server"
	"github.com/ravi-kumar-24/distributed-search-frontend/web"
)

var (
	configPath   string
	port         int
	workers      int
	coordinators []string
	redisAddrs   []string
	dataDir      string
	docsDir      string
	advertiseURL string
	serverURL    string
	maxResults   int
	minScore     float64
)

func main() {
	var rootCmd = &cobra.Command{Use: "searchgw"}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the search gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd)
		},
	}
	serveCmd.Flags().IntVarP(&port, "port", "p", 9000, "Public HTTP port")
	serveCmd.Flags().IntVarP(&workers, "workers", "w", 8, "Requests served concurrently")
	serveCmd.Flags().StringSliceVar(&coordinators, "coordinators", []string{}, "Static coordinators (format: id=http://host:port/task)")
	serveCmd.Flags().StringSliceVar(&redisAddrs, "redis", []string{}, "Redis addresses for the coordinator directory")

	var nodeCmd = &cobra.Command{
		Use:   "node",
		Short: "Start a local search coordinator backed by an on-disk index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd)
		},
	}
	nodeCmd.Flags().IntVarP(&port, "port", "p", 8081, "Node RPC port")
	nodeCmd.Flags().StringVar(&dataDir, "data", "./data", "Path to index storage")
	nodeCmd.Flags().StringVar(&docsDir, "docs", "", "Directory of documents to index on startup")
	nodeCmd.Flags().StringVar(&advertiseURL, "advertise-url", "", "Task URL registered in the coordinator directory")
	nodeCmd.Flags().StringSliceVar(&redisAddrs, "redis", []string{}, "Redis addresses for the coordinator directory")

	var queryCmd = &cobra.Command{
		Use:   "query [q]",
		Short: "Search documents through a running gateway",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			callQuery(args[0])
		},
	}
	queryCmd.Flags().StringVarP(&serverURL, "server", "u", "http://localhost:9000/documents_search", "Gateway search URL")
	queryCmd.Flags().IntVarP(&maxResults, "max", "n", 10, "Maximum number of results")
	queryCmd.Flags().Float64Var(&minScore, "min-score", 0, "Minimum normalized score (0-100)")

	rootCmd.AddCommand(serveCmd, nodeCmd, queryCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and lets explicitly set flags win.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		if cmd.Name() == "node" {
			cfg.Node.Port = port
		} else {
			cfg.HTTP.Port = port
		}
	}
	if flags.Changed("workers") {
		cfg.HTTP.Workers = workers
	}
	if flags.Changed("coordinators") {
		cfg.Directory.Driver = "static"
		cfg.Directory.Coordinators = coordinators
	}
	if flags.Changed("redis") {
		cfg.Directory.Driver = "redis"
		cfg.Directory.Redis.Addrs = redisAddrs
	}
	if flags.Changed("data") {
		cfg.Node.DataDir = dataDir
	}
	if flags.Changed("docs") {
		cfg.Node.DocsDir = docsDir
	}
	if flags.Changed("advertise-url") {
		cfg.Node.AdvertiseURL = advertiseURL
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logpkg.NewLogger(cfg.Env, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runGateway(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var directory search.CoordinatorDirectory
	switch cfg.Directory.Driver {
	case "redis":
		rd, err := cluster.NewRedisDirectory(redisConfig(cfg), logger)
		if err != nil {
			logger.Fatal("Failed to create coordinator directory", zap.Error(err))
		}
		defer rd.Close()
		directory = rd
	default:
		directory = cluster.NewStaticDirectory(cfg.Directory.Coordinators)
	}

	searchHandler := search.NewUserSearchHandler(directory, rpc.NewClient(nil), search.Config{
		Endpoint:          cfg.Search.Endpoint,
		DocumentsLocation: cfg.Search.DocumentsLocation,
		RPCTimeout:        cfg.RPCTimeout(),
	}, logger)

	var assets fs.FS = web.Assets
	if cfg.Assets.Dir != "" {
		assets = os.DirFS(cfg.Assets.Dir)
	}

	webServer, err := server.NewWebServer(server.Config{
		Addr:           fmt.Sprintf(":%d", cfg.HTTP.Port),
		Workers:        cfg.HTTP.Workers,
		MaxConnections: cfg.HTTP.MaxConnections,
		ReadTimeout:    cfg.HTTP.ReadTimeout(),
		WriteTimeout:   cfg.HTTP.WriteTimeout(),
		IdleTimeout:    cfg.HTTP.IdleTimeout(),
		Assets:         assets,
		AssetsBaseDir:  cfg.Assets.Base,
		EntryDocument:  cfg.Assets.Entry,
	}, logger, searchHandler)
	if err != nil {
		logger.Fatal("Failed to configure web server", zap.Error(err))
	}

	if err := webServer.Start(); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}
	logger.Info("Search gateway started",
		zap.String("env", cfg.Env),
		zap.String("endpoint", searchHandler.Endpoint()),
		zap.String("directory", cfg.Directory.Driver),
	)

	waitForSignal(logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer cancel()
	if err := webServer.Shutdown(ctx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	logger.Info("Search gateway stopped")
	return nil
}

func runNode(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := node.Open(cfg.Node.DataDir)
	if err != nil {
		logger.Fatal("Failed to open index", zap.Error(err))
	}
	defer store.Close()

	if cfg.Node.DocsDir != "" {
		stats, err := node.LoadDir(store, cfg.Node.DocsDir)
		if err != nil {
			logger.Fatal("Failed to load documents", zap.Error(err))
		}
		logger.Info("Synced documents",
			zap.Int("indexed", stats.Indexed),
			zap.Int("deleted", stats.Deleted),
			zap.String("dir", cfg.Node.DocsDir),
		)
	}
	if count, err := store.DocCount(); err == nil {
		logger.Info("Index ready", zap.Uint64("documents", count))
	}

	nodeServer := node.NewServer(store, fmt.Sprintf(":%d", cfg.Node.Port), 0, logger)
	if err := nodeServer.Start(); err != nil {
		logger.Fatal("Failed to start search node", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	registered := make(chan struct{})
	if cfg.Directory.Driver == "redis" {
		rd, err := cluster.NewRedisDirectory(redisConfig(cfg), logger)
		if err != nil {
			logger.Fatal("Failed to create coordinator directory", zap.Error(err))
		}
		defer rd.Close()

		addr := cfg.Node.AdvertiseURL
		if addr == "" {
			addr = fmt.Sprintf("http://localhost:%d%s", cfg.Node.Port, node.TaskEndpoint)
		}
		go func() {
			defer close(registered)
			if err := rd.Register(ctx, addr, time.Duration(cfg.Node.HeartbeatSec)*time.Second); err != nil {
				logger.Error("Coordinator registration failed", zap.Error(err))
			}
		}()
	} else {
		close(registered)
	}

	waitForSignal(logger)
	cancel()
	<-registered

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer stop()
	if err := nodeServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	logger.Info("Search node stopped")
	return nil
}

func redisConfig(cfg config.Config) cluster.RedisConfig {
	return cluster.RedisConfig{
		Addrs:    cfg.Directory.Redis.Addrs,
		Password: cfg.Directory.Redis.Password,
		Key:      cfg.Directory.Redis.Key,
		TTL:      cfg.DirectoryTTL(),
	}
}

func waitForSignal(logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("Received shutdown signal")
}

func callQuery(query string) {
	body, _ := json.Marshal(model.FrontendSearchRequest{
		SearchQuery:        query,
		MaxNumberOfResults: maxResults,
		MinScore:           minScore,
	})
	resp, err := http.Post(serverURL, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(resp.Body)

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, reply, "", "  "); err == nil {
		fmt.Println(prettyJSON.String())
	} else {
		fmt.Println(string(reply))
	}
}
