package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	thttp "github.com/storacha/go-ucanto/transport/http"

	"github.com/relves/vulnlog/internal/storage/sqlite"
	"github.com/relves/vulnlog/pkg/eventlog"
	"github.com/relves/vulnlog/pkg/ledger"
	"github.com/relves/vulnlog/pkg/oracle"
	"github.com/relves/vulnlog/pkg/server"
)

func main() {
	basePath := getEnv("DATA_PATH", "./data")

	levelStr := getEnv("LOG_LEVEL", "info")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// One Ed25519 key is the service DID and signs event log checkpoints
	pub, priv, err := loadKeys()
	if err != nil {
		logger.Error("failed to load keys", "error", err)
		os.Exit(1)
	}

	serviceSigner, err := signer.FromRaw(priv)
	if err != nil {
		logger.Error("failed to create service signer", "error", err)
		os.Exit(1)
	}

	logSigner, err := eventlog.NewEd25519Signer(ed25519.PrivateKey(priv), "")
	if err != nil {
		logger.Error("failed to create checkpoint signer", "error", err)
		os.Exit(1)
	}
	verifierKey, err := logSigner.VerifierKey()
	if err != nil {
		logger.Error("failed to derive verifier key", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.Open(basePath)
	if err != nil {
		logger.Error("failed to open store", "path", basePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Deployment oracle backed by the store, seeded from an optional manifest
	storeOracle := oracle.NewStoreOracle(store)
	if path := os.Getenv("DEPLOYMENTS_FILE"); path != "" {
		n, err := storeOracle.LoadManifest(context.Background(), path)
		if err != nil {
			logger.Error("failed to load deployments", "path", path, "error", err)
			os.Exit(1)
		}
		logger.Info("loaded deployments", "path", path, "count", n)
	}
	cacheTTL, err := time.ParseDuration(getEnv("ORACLE_CACHE_TTL", "30s"))
	if err != nil {
		logger.Error("invalid ORACLE_CACHE_TTL", "error", err)
		os.Exit(1)
	}
	cacheSize, err := strconv.Atoi(getEnv("ORACLE_CACHE_SIZE", "1024"))
	if err != nil || cacheSize < 1 {
		logger.Error("invalid ORACLE_CACHE_SIZE", "value", os.Getenv("ORACLE_CACHE_SIZE"))
		os.Exit(1)
	}
	deployments := oracle.NewCached(storeOracle, cacheSize, cacheTTL)

	origin := getEnv("LOG_ORIGIN", eventlog.DefaultOrigin)
	events := eventlog.New(store, origin, logSigner, logger)

	svc, err := ledger.NewService(ledger.Config{
		Store:    store,
		Oracle:   deployments,
		EventLog: events,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to create ledger", "error", err)
		os.Exit(1)
	}

	var validator server.RequestValidator
	if denied := os.Getenv("DENIED_ISSUERS"); denied != "" {
		deny := server.NewDenyList(denied)
		logger.Info("issuer deny list enabled", "count", len(deny))
		validator = server.Chain{deny}
	}

	// Create ucanto server
	ucantoServer, err := server.NewServer(
		server.WithSigner(serviceSigner),
		server.WithLedger(svc),
		server.WithValidator(validator),
		server.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create ucanto server", "error", err)
		os.Exit(1)
	}

	// HTTP routes
	mux := http.NewServeMux()

	// UCAN RPC endpoint (POST)
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		req := thttp.NewRequest(r.Body, r.Header)

		res, err := ucantoServer.Request(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for name, values := range res.Headers() {
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}

		if res.Status() != 0 {
			w.WriteHeader(res.Status())
		}

		body := res.Body()
		io.Copy(w, body)
		body.Close()
	})

	// Public read API and tlog-tiles view of the event log
	server.NewHTTPHandler(svc, events, logger).Register(mux)
	server.NewTilesHandler(events, logger).Register(mux)

	port := getEnv("PORT", "8080")
	addr := ":" + port

	fmt.Println("VULNLOG Service Startup")
	fmt.Println("===================================")
	fmt.Printf("Service DID: %s\n", serviceSigner.DID().String())
	fmt.Printf("Public Key (hex): %s\n", hex.EncodeToString(pub))
	if os.Getenv("VULNLOG_PRIVATE_KEY") != "" {
		fmt.Println("Key Source: VULNLOG_PRIVATE_KEY environment variable")
	} else {
		fmt.Println("Key Source: Ephemeral (generated on startup)")
	}
	fmt.Printf("Database: %s\n", store.DBPath())
	fmt.Printf("Checkpoint Origin: %s\n", origin)
	fmt.Printf("Checkpoint Verifier Key: %s\n", verifierKey)
	fmt.Println()
	fmt.Println("UCAN RPC Endpoint (authenticated):")
	fmt.Printf("  POST http://localhost:%s/\n", port)
	fmt.Println()
	fmt.Println("UCAN Capabilities:")
	fmt.Println("  protocol/register, protocol/rotate-key")
	fmt.Println("  protocol/transfer/{propose,accept,cancel}")
	fmt.Println("  policy/{create,update}")
	fmt.Println("  disclosure/{submit,claim,acknowledge,resolve,reveal}")
	fmt.Println("  vault/{create,fund,deactivate,withdraw,claim}")
	fmt.Println()
	fmt.Println("Read API:")
	fmt.Printf("  GET http://localhost:%s/protocols\n", port)
	fmt.Printf("  GET http://localhost:%s/disclosures\n", port)
	fmt.Printf("  GET http://localhost:%s/vaults/{addr}\n", port)
	fmt.Printf("  GET http://localhost:%s/balances/{identity}\n", port)
	fmt.Println()
	fmt.Println("Event log (tlog-tiles):")
	fmt.Printf("  GET http://localhost:%s/log/checkpoint\n", port)
	fmt.Printf("  GET http://localhost:%s/log/tile/{level}/{path}\n", port)
	fmt.Printf("  GET http://localhost:%s/log/tile/entries/{path}\n", port)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadKeys loads Ed25519 keys from VULNLOG_PRIVATE_KEY env var or generates new ones
func loadKeys() (publicKey, privateKey []byte, err error) {
	if privKeyEnv := os.Getenv("VULNLOG_PRIVATE_KEY"); privKeyEnv != "" {
		priv, err := base64.StdEncoding.DecodeString(privKeyEnv)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode VULNLOG_PRIVATE_KEY: %w", err)
		}

		if len(priv) != ed25519.PrivateKeySize {
			return nil, nil, fmt.Errorf("VULNLOG_PRIVATE_KEY must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
		}

		privKey := ed25519.PrivateKey(priv)
		pubKey := privKey.Public().(ed25519.PublicKey)

		return pubKey, priv, nil
	}

	// Fall back to generating ephemeral keys
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}
