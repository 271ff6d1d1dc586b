package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aspect-build/attestproof/internal/attestation"
	"github.com/aspect-build/attestproof/internal/config"
	"github.com/aspect-build/attestproof/internal/db"
	"github.com/aspect-build/attestproof/internal/logx"
	"github.com/aspect-build/attestproof/internal/server"
	"github.com/aspect-build/attestproof/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or ATTESTPROOF_LOG_LEVEL)")
	cfgFile := flag.String("config", "", "Config file (default: ./config.yaml or /etc/attestproof/config.yaml)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("attestproof-server"))
		fmt.Fprintf(os.Stderr, "attestproof-server verifies Azure attestation tokens over HTTP.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables (all settings also accept config.yaml keys):\n")
		fmt.Fprintf(os.Stderr, "  ATTESTPROOF_SERVER_LISTEN_ADDR   Listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTPROOF_SERVER_DB_PATH       SQLite database path (default: attestproof.db)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTPROOF_SERVER_ADMIN_TOKEN   Admin Bearer token (min 16 chars; admin API disabled if unset)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTPROOF_SERVER_CORS_ORIGINS  Comma-separated allowed origins\n")
		fmt.Fprintf(os.Stderr, "  ATTESTPROOF_KEYSET_ALLOWLIST     Comma-separated trusted jku patterns\n")
		fmt.Fprintf(os.Stderr, "  ATTESTPROOF_KEYSET_CACHE_ENABLED Cache key sets in the database (default: false)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTPROOF_POLICY_REGO_FILE     Rego policy applied to every verification\n")
		fmt.Fprintf(os.Stderr, "  ATTESTPROOF_AGENT_COMMAND        Agent used by POST /v1/attest\n")
		fmt.Fprintf(os.Stderr, "  ATTESTPROOF_LOG_LEVEL            Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("attestproof-server"))
		os.Exit(0)
	}

	v := config.InitViper()
	if *cfgFile != "" {
		v.SetConfigFile(*cfgFile)
	}
	cfg, err := config.Load(v)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("load config: %v", err)
	}

	level := *logLevel
	if level == "" && !*verbose {
		level = cfg.LogLevel
	}
	if err := logx.Configure(level, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	store, err := db.NewStore(cfg.Server.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	resolver, cache, err := cfg.KeySet.NewResolver(store)
	if err != nil {
		log.Fatalf("key resolver: %v", err)
	}
	engine, err := cfg.Policy.NewEngine(context.Background())
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	deps := server.Deps{
		Verifier: attestation.NewTokenVerifier(resolver, engine),
		Store:    store,
	}
	if cache != nil {
		deps.Cache = cache
	}
	runner, err := cfg.Agent.Runner(os.Stderr)
	if err != nil {
		log.Fatalf("agent: %v", err)
	}
	if runner != nil {
		deps.Agent = runner
	}

	r := server.NewRouter(cfg.Server, deps)
	logx.Infof("server config: allowlist=%v cache=%v policy=%v admin=%v",
		cfg.KeySet.Allowlist, cfg.KeySet.CacheEnabled, engine.Enabled(), cfg.Server.AdminToken != "")

	log.Printf("attestproof-server listening on %s", cfg.Server.ListenAddr)
	if err := r.Run(cfg.Server.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
