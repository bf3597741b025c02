package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"votechain.org/internal/auth"
	"votechain.org/internal/biometric"
	"votechain.org/internal/config"
	"votechain.org/internal/eligibility"
	"votechain.org/internal/httpapi"
	"votechain.org/internal/ledger"
	"votechain.org/internal/ledger/eth"
	"votechain.org/internal/obs"
	"votechain.org/internal/proof"
	"votechain.org/internal/registration"
	"votechain.org/internal/session"
	"votechain.org/internal/store/pg"
	"votechain.org/internal/stream"
	"votechain.org/internal/tally"
	"votechain.org/internal/token"
	"votechain.org/internal/uploads"
	"votechain.org/internal/voter"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log.SetFlags(0)
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db        *sql.DB
		directory voter.Directory
		contacts  voter.ContactStore
	)
	if cfg.PGDSN != "" {
		st, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer st.Close()
		db = st.DB()
		directory, contacts = st, st
	} else {
		obs.Warn("voter_store_memory", map[string]any{"reason": "VOTING_PG_DSN not set"})
		mem := voter.NewMemoryStore()
		directory, contacts = mem, mem
	}

	var svc ledger.Service
	switch cfg.Ledger {
	case config.LedgerEth:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
		contract, client, err := eth.Dial(ctx, eth.Config{
			RPCURL:      cfg.RPCURL,
			Address:     cfg.ContractAddress,
			PrivateKey:  cfg.AdminPrivateKey,
			CallTimeout: cfg.CallTimeout,
			TxTimeout:   cfg.LedgerTimeout,
		})
		cancel()
		if err != nil {
			log.Fatalf("dial ledger: %v", err)
		}
		defer client.Close()
		svc = contract
	default:
		obs.Warn("ledger_memory", map[string]any{"reason": "VOTING_LEDGER=memory, state is lost on restart"})
		svc = ledger.NewInMemory(nil)
	}

	faces := biometric.NewFacePP(cfg.FacePPURL, cfg.FacePPKey, cfg.FacePPSecret, cfg.CallTimeout)
	if _, ok := faces.(biometric.Unconfigured); ok {
		obs.Warn("biometric_unconfigured", map[string]any{"effect": "registration and login fail closed"})
	}
	decoder := proof.NewDecoder(proof.ZXingReader{}, proof.DefaultVariants()...)

	signer, err := auth.NewSigner(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("session signer: %v", err)
	}
	store, err := uploads.NewStore(cfg.UploadDir, cfg.ProofDir, cfg.MaxUploadBytes)
	if err != nil {
		log.Fatalf("uploads: %v", err)
	}

	gate := eligibility.NewGate(directory, contacts, decoder, faces, eligibility.Policy{
		RequireQR:     cfg.RequireQR,
		MinConfidence: cfg.FaceThresholdRegister,
		CallTimeout:   cfg.CallTimeout,
	}, nil)
	tokens := token.NewManager(svc, cfg.TokenTTL)
	probe := httpapi.ReadyProbe{DB: db, Ledger: svc}

	api := httpapi.New(httpapi.Deps{
		Registration: registration.NewService(gate, contacts, tokens, registration.AuditNotifier{},
			registration.WithCallTimeout(cfg.CallTimeout)),
		Sessions: session.NewIssuer(directory, faces, signer, session.Policy{
			MinConfidence: cfg.FaceThresholdLogin,
			CallTimeout:   cfg.CallTimeout,
		}, nil),
		Tokens:         tokens,
		Tally:          tally.New(svc),
		Ledger:         svc,
		Directory:      directory,
		Signer:         signer,
		AdminKey:       auth.NewAdminKey(cfg.AdminKey),
		Uploads:        store,
		Stream:         stream.New(),
		Ready:          probe,
		Version:        version,
		CallTimeout:    cfg.CallTimeout,
		LedgerTimeout:  cfg.LedgerTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.LedgerTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcSrv, httpapi.NewHealthServer(probe))
		go func() {
			obs.Info("grpc_listen", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	go func() {
		obs.Info("http_listen", map[string]any{"addr": srv.Addr, "version": version, "ledger": cfg.Ledger})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	obs.Info("shutdown", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	obs.Info("stopped", nil)
}
