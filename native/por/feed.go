package por

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"lendmesh/crypto"
	nativecommon "lendmesh/native/common"
	"lendmesh/native/oracle"
)

// moduleName is used by the pause guard.
const moduleName = "por"

const feedVersion = 1

var (
	errInvalidAmount = errors.New("por feed: amount must be positive")
	// ErrRoundNotFound is returned when a historical round was never pushed.
	ErrRoundNotFound = errors.New("por feed: round not found")
)

// Feed is a push-based proof-of-reserve aggregator. It satisfies
// oracle.RoundFeed so a market can list it as a price source, and exposes the
// usual aggregator read surface (decimals, description, version) for off-chain
// consumers.
//
// Updates are pushed by the protocol through UpdateReserves. The push is
// time-gated on the heartbeat: calls landing inside the window are idempotent
// no-ops, so an external automation keeper can fire as often as it likes.
type Feed struct {
	mu sync.RWMutex

	description string
	decimals    uint8
	heartbeat   time.Duration
	roles       nativecommon.RoleView
	pauses      nativecommon.PauseView
	now         func() time.Time

	rounds []oracle.RoundData
}

// NewFeed constructs an empty feed. heartbeat bounds how often UpdateReserves
// records a new round.
func NewFeed(description string, decimals uint8, heartbeat time.Duration) *Feed {
	return &Feed{
		description: description,
		decimals:    decimals,
		heartbeat:   heartbeat,
		now:         time.Now,
	}
}

// SetRoles wires the role policy consulted by UpdateReserves.
func (f *Feed) SetRoles(r nativecommon.RoleView) {
	if f == nil {
		return
	}
	f.roles = r
}

// SetPauses wires the pause policy.
func (f *Feed) SetPauses(p nativecommon.PauseView) {
	if f == nil {
		return
	}
	f.pauses = p
}

// SetNowFunc overrides the clock for deterministic tests.
func (f *Feed) SetNowFunc(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.now = now
}

// Decimals reports the fixed-point scale of pushed reserve values.
func (f *Feed) Decimals() uint8 { return f.decimals }

// Description identifies the reserve being attested.
func (f *Feed) Description() string { return f.description }

// Version reports the aggregator interface version.
func (f *Feed) Version() uint64 { return feedVersion }

// UpdateReserves records the current reserve total as a new round. A call
// inside the heartbeat window is a no-op so automation retries stay harmless;
// the round counter only advances once per window.
func (f *Feed) UpdateReserves(caller crypto.Address, amount *big.Int) error {
	if f == nil {
		return errors.New("por feed: not initialised")
	}
	if err := nativecommon.Guard(f.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(f.roles, nativecommon.RoleProtocol, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if n := len(f.rounds); n > 0 {
		if now.Sub(f.rounds[n-1].UpdatedAt) < f.heartbeat {
			return nil
		}
	}
	roundID := uint64(len(f.rounds)) + 1
	f.rounds = append(f.rounds, oracle.RoundData{
		RoundID:         roundID,
		Answer:          new(big.Int).Set(amount),
		UpdatedAt:       now,
		AnsweredInRound: roundID,
	})
	return nil
}

// LatestRound implements oracle.RoundFeed.
func (f *Feed) LatestRound() (oracle.RoundData, error) {
	if f == nil {
		return oracle.RoundData{}, ErrRoundNotFound
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.rounds)
	if n == 0 {
		return oracle.RoundData{}, ErrRoundNotFound
	}
	return cloneRound(f.rounds[n-1]), nil
}

// Round implements oracle.RoundFeed.
func (f *Feed) Round(id uint64) (oracle.RoundData, error) {
	if f == nil {
		return oracle.RoundData{}, ErrRoundNotFound
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if id == 0 || id > uint64(len(f.rounds)) {
		return oracle.RoundData{}, ErrRoundNotFound
	}
	return cloneRound(f.rounds[id-1]), nil
}

func cloneRound(r oracle.RoundData) oracle.RoundData {
	out := r
	if r.Answer != nil {
		out.Answer = new(big.Int).Set(r.Answer)
	}
	return out
}
