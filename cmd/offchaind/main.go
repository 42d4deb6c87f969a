// Package main provides offchaind, a single-party off-chain payment
// protocol daemon: one engine, one HTTP transport, one reference business
// policy, serving and originating payments against a configured peer book.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/business"
	"github.com/vasprail/offchain/internal/config"
	"github.com/vasprail/offchain/internal/envelope"
	"github.com/vasprail/offchain/internal/offchain/engine"
	"github.com/vasprail/offchain/internal/offchain/payment"
	"github.com/vasprail/offchain/internal/storage"
	"github.com/vasprail/offchain/internal/transport"
	"github.com/vasprail/offchain/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir       = flag.String("data-dir", "~/.offchaind", "Data directory")
		configFile    = flag.String("config", "", "Directory holding config.yaml (default: <data-dir>)")
		listenAddr    = flag.String("listen", "", "Listen address (host:port), overrides config")
		logLevel      = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion   = flag.Bool("version", false, "Show version and exit")
		originatePeer = flag.String("originate-peer", "", "Bech32 address of a configured peer to originate one payment with after startup")
		originateRef  = flag.String("originate-ref", "", "Reference id suffix for -originate-peer (required with -originate-peer)")
		originateWait = flag.Duration("originate-wait", 60*time.Second, "How long -originate-peer waits for the payment to reach a final state")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("offchaind %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	var cfgDir string
	if *configFile != "" {
		cfgDir = *configFile
	} else {
		cfgDir = *dataDir
	}
	cfg, err := config.LoadDaemonConfig(cfgDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	cfg.Storage.DataDir = *dataDir

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", config.DaemonConfigPath(cfgDir))

	me, err := cfg.Identity.Address()
	if err != nil {
		log.Fatal("invalid identity configuration", "error", err)
	}
	if cfg.Identity.KeyFile == "" {
		log.Fatal("identity.key_file must be set")
	}
	signer, verifier, err := envelope.LoadOrGenerateSecp256k1Signer(cfg.Identity.KeyFile)
	if err != nil {
		log.Fatal("failed to load signing key", "error", err)
	}
	log.Info("identity loaded", "address", me.String(), "public_key", verifier.PublicKeyHex())

	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("storage initialized", "dir", cfg.Storage.DataDir)

	biz := business.New(me, business.KYCRecord{LegalName: "Reference VASP", Country: "US"})

	book := transport.NewAddressBook()
	peerVerifiers := make(map[string]envelope.Verifier, len(cfg.Peers))
	for _, p := range cfg.Peers {
		addr, err := address.FromEncodedString(p.AddressEncoded)
		if err != nil {
			log.Fatal("invalid peer address in config", "address", p.AddressEncoded, "error", err)
		}
		book.Set(addr, p.BaseURL)

		pubKeyBytes, err := hex.DecodeString(p.PublicKeyHex)
		if err != nil {
			log.Fatal("invalid peer public key in config", "address", p.AddressEncoded, "error", err)
		}
		pubKey, err := btcec.ParsePubKey(pubKeyBytes)
		if err != nil {
			log.Fatal("invalid peer public key in config", "address", p.AddressEncoded, "error", err)
		}
		peerVerifiers[addr.String()] = envelope.NewSecp256k1Verifier(pubKey)
	}

	xport := transport.NewHTTPTransport(me, book)

	eng := engine.New(engine.Config{
		Me:        me,
		Store:     store,
		Business:  biz,
		Signer:    signer,
		Transport: xport,
		Log:       log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go eng.Run(ctx)

	for _, p := range cfg.Peers {
		addr, _ := address.FromEncodedString(p.AddressEncoded)
		if err := eng.AddPeer(addr, peerVerifiers[addr.String()]); err != nil {
			log.Fatal("failed to register peer", "peer", p.AddressEncoded, "error", err)
		}
	}

	if err := eng.Recover(ctx); err != nil {
		log.Fatal("crash recovery failed", "error", err)
	}
	log.Info("crash recovery complete")

	server := transport.NewHTTPServer(cfg.Listen)
	go func() {
		err := server.Serve(ctx, func(peer address.Address, env []byte) ([]byte, error) {
			return eng.HandleRequestBytes(ctx, peer, env)
		})
		if err != nil && ctx.Err() == nil {
			log.Fatal("transport server exited", "error", err)
		}
	}()

	go runRetransmitLoop(ctx, eng, time.Duration(cfg.RetransmitIntervalSeconds)*time.Second)

	log.Info("offchaind started", "address", me.String(), "listen", cfg.Listen, "peers", len(cfg.Peers))

	if *originatePeer != "" {
		go func() {
			if err := originate(ctx, eng, me, *originatePeer, *originateRef, *originateWait, log); err != nil {
				log.Error("originate failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")
	cancel()
}

// runRetransmitLoop periodically resends any command whose response never
// arrived (spec.md §4.C's retransmission correctness mechanism).
func runRetransmitLoop(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.RetransmitAll(ctx)
		}
	}
}

// originate starts a brand-new payment with peerEncoded and blocks (up to
// wait) for it to reach a final state, logging the outcome.
func originate(ctx context.Context, eng *engine.Engine, me address.Address, peerEncoded, refSuffix string, wait time.Duration, log *logging.Logger) error {
	if refSuffix == "" {
		return fmt.Errorf("-originate-ref is required with -originate-peer")
	}
	peer, err := address.FromEncodedString(peerEncoded)
	if err != nil {
		return fmt.Errorf("invalid -originate-peer: %w", err)
	}

	referenceID := payment.NewReferenceID(me.String(), refSuffix)
	p := payment.PaymentObject{
		Version:     uuid.NewString(),
		ReferenceID: referenceID,
		Sender:      payment.PaymentActor{Address: me.String(), Status: payment.NewStatus(payment.StatusNone)},
		Receiver:    payment.PaymentActor{Address: peer.String(), Status: payment.NewStatus(payment.StatusNone)},
	}

	if err := eng.OriginatePayment(ctx, peer, p); err != nil {
		return fmt.Errorf("originate payment: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	final, err := eng.WaitForOutcome(waitCtx, referenceID)
	if err != nil {
		return fmt.Errorf("waiting for outcome: %w", err)
	}

	log.Info("payment reached final state",
		"reference_id", referenceID,
		"sender_status", final.Sender.Status.Status,
		"receiver_status", final.Receiver.Status.Status)
	return nil
}
