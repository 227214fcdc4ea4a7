package por

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"lendmesh/crypto"
	nativecommon "lendmesh/native/common"
)

func feedAddr(tag byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = tag
	return crypto.NewAddress(crypto.ModulePrefix, raw)
}

func newTestFeed() (*Feed, crypto.Address, *int64) {
	feed := NewFeed("USDC reserves", 6, time.Hour)
	pusher := feedAddr(0x01)
	roles := nativecommon.NewRoleSet()
	roles.Grant(nativecommon.RoleProtocol, pusher)
	feed.SetRoles(roles)
	now := int64(1_700_000_000)
	feed.SetNowFunc(func() time.Time { return time.Unix(now, 0) })
	return feed, pusher, &now
}

func TestFeedUpdateAndRead(t *testing.T) {
	feed, pusher, _ := newTestFeed()

	if _, err := feed.LatestRound(); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("empty feed err = %v, want ErrRoundNotFound", err)
	}
	if err := feed.UpdateReserves(pusher, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("update: %v", err)
	}
	round, err := feed.LatestRound()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if round.RoundID != 1 || round.Answer.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("round = %+v", round)
	}
	if feed.Decimals() != 6 || feed.Version() != 1 || feed.Description() != "USDC reserves" {
		t.Fatalf("metadata mismatch")
	}
}

func TestFeedHeartbeatGate(t *testing.T) {
	feed, pusher, now := newTestFeed()

	if err := feed.UpdateReserves(pusher, big.NewInt(100)); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Inside the window the push is a no-op, even with a new value.
	*now += 60
	if err := feed.UpdateReserves(pusher, big.NewInt(200)); err != nil {
		t.Fatalf("in-window update: %v", err)
	}
	round, err := feed.LatestRound()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if round.RoundID != 1 || round.Answer.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("in-window push must not record a round: %+v", round)
	}

	*now += 3600
	if err := feed.UpdateReserves(pusher, big.NewInt(200)); err != nil {
		t.Fatalf("post-window update: %v", err)
	}
	round, _ = feed.LatestRound()
	if round.RoundID != 2 || round.Answer.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("round after heartbeat = %+v", round)
	}

	historic, err := feed.Round(1)
	if err != nil {
		t.Fatalf("round 1: %v", err)
	}
	if historic.Answer.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("historic answer = %s", historic.Answer)
	}
	if _, err := feed.Round(3); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("unknown round err = %v", err)
	}
}

func TestFeedRequiresProtocolRole(t *testing.T) {
	feed, _, _ := newTestFeed()
	outsider := feedAddr(0x02)
	if err := feed.UpdateReserves(outsider, big.NewInt(1)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}
