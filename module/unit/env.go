// Package unit is the per-node runtime wrapper: environment access (clock,
// randomness, caller, unit identity), the root state aggregate, and the
// mandatory run-jobs / handle / flush-queues bracket around every update.
package unit

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"time"

	"UProject/module/chat/model"
)

// Env abstracts the unit's host environment so core logic never touches
// the wall clock or global randomness directly.
type Env interface {
	Now() model.TimestampMillis
	Rng() *mrand.Rand
	Caller() model.UserID
	UnitID() model.UnitID
}

type prodEnv struct {
	unitID model.UnitID
	caller model.UserID
	rng    *mrand.Rand
}

// NewEnv builds the production environment for one unit. The rng is
// crypto-seeded once; idempotency ids additionally use ids.RandomU64.
func NewEnv(unitID model.UnitID) Env {
	var seed [8]byte
	_, _ = rand.Read(seed[:])
	return &prodEnv{
		unitID: unitID,
		rng:    mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(seed[:])))),
	}
}

func (e *prodEnv) Now() model.TimestampMillis { return time.Now().UnixMilli() }
func (e *prodEnv) Rng() *mrand.Rand           { return e.rng }
func (e *prodEnv) Caller() model.UserID       { return e.caller }
func (e *prodEnv) UnitID() model.UnitID       { return e.unitID }

// WithCaller returns the env bound to the verified principal of one call.
func WithCaller(env Env, caller model.UserID) Env {
	if p, ok := env.(*prodEnv); ok {
		bound := *p
		bound.caller = caller
		return &bound
	}
	if t, ok := env.(*TestEnv); ok {
		bound := *t
		bound.CallerID = caller
		return &bound
	}
	return env
}

// TestEnv is the deterministic fake: fixed clock, seeded rng, settable
// caller. Advance the clock explicitly from tests.
type TestEnv struct {
	NowMillis model.TimestampMillis
	CallerID  model.UserID
	Unit      model.UnitID
	Seed      int64

	rng *mrand.Rand
}

func NewTestEnv() *TestEnv {
	return &TestEnv{NowMillis: 1_700_000_000_000, Unit: "unit-test", Seed: 42}
}

func (e *TestEnv) Now() model.TimestampMillis { return e.NowMillis }
func (e *TestEnv) Caller() model.UserID       { return e.CallerID }
func (e *TestEnv) UnitID() model.UnitID       { return e.Unit }

func (e *TestEnv) Rng() *mrand.Rand {
	if e.rng == nil {
		e.rng = mrand.New(mrand.NewSource(e.Seed))
	}
	return e.rng
}

// Advance moves the fake clock forward.
func (e *TestEnv) Advance(d time.Duration) {
	e.NowMillis += d.Milliseconds()
}
