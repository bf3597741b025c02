package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"votechain.org/internal/config"
	"votechain.org/internal/identity"
	"votechain.org/internal/ids"
	"votechain.org/internal/ledger"
	"votechain.org/internal/ledger/eth"
	"votechain.org/internal/tally"
	"votechain.org/internal/token"
)

func main() {
	log.SetFlags(0)
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	rpcURL := os.Getenv("VOTING_RPC_URL")
	if rpcURL == "" {
		rpcURL = "http://127.0.0.1:8545"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	contract, client, err := eth.Dial(ctx, eth.Config{
		RPCURL:      rpcURL,
		Address:     os.Getenv("VOTING_CONTRACT_ADDRESS"),
		PrivateKey:  os.Getenv("VOTING_ADMIN_PRIVATE_KEY"),
		CallTimeout: 10 * time.Second,
		TxTimeout:   60 * time.Second,
	})
	if err != nil {
		log.Fatalf("dial ledger at %s: %v", rpcURL, err)
	}
	defer client.Close()

	rc, err := contract.AddCandidate(ctx, ledger.CandidateInput{NameEN: "Smoke Candidate", NameKH: "Smoke", Party: "SMOKE"})
	if err != nil {
		log.Fatalf("add candidate: %v", err)
	}
	results, err := tally.Rebuild(ctx, contract)
	if err != nil {
		log.Fatalf("replay events: %v", err)
	}
	if len(results) == 0 {
		log.Fatalf("candidate added in %s is missing from the event log", rc.TxHash)
	}
	candidate := results[len(results)-1]
	before := candidate.VoteCount

	key := identity.Canonical("SMOKE-" + ids.New())
	mgr := token.NewManager(contract, 5*time.Minute)

	first, err := mgr.IssueOrReuse(ctx, key)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	second, err := mgr.IssueOrReuse(ctx, key)
	if err != nil {
		log.Fatalf("reuse token: %v", err)
	}
	if !first.IssuedNewly || second.IssuedNewly || first.Token != second.Token {
		log.Fatalf("reuse failed: first=%+v second=%+v", first.IssuedNewly, second.IssuedNewly)
	}

	ok, err := mgr.Validate(ctx, key, first.Token)
	if err != nil || !ok {
		log.Fatalf("validate token: ok=%v err=%v", ok, err)
	}

	if _, err := mgr.Spend(ctx, key, first.Token, candidate.ID); err != nil {
		log.Fatalf("spend token: %v", err)
	}
	if _, err := mgr.Spend(ctx, key, first.Token, candidate.ID); err == nil {
		log.Fatalf("second spend unexpectedly succeeded")
	}

	results, err = tally.Rebuild(ctx, contract)
	if err != nil {
		log.Fatalf("replay events: %v", err)
	}
	for _, r := range results {
		if r.ID == candidate.ID && r.VoteCount != before+1 {
			log.Fatalf("tally mismatch for candidate %d: %d -> %d", r.ID, before, r.VoteCount)
		}
	}

	fmt.Printf("ledger smoke test passed: candidate=%d tx=%s\n", candidate.ID, rc.TxHash)
}
