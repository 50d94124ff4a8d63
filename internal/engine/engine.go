package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tmom/playbook/internal/fsm"
	"github.com/tmom/playbook/internal/outcome"
	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/resolve"
	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/snapshot"
)

// StateStore is the persistence contract for per-(rule, subject)
// violation state. The engine reads prior state before a cycle and
// writes the successor state after resolution completes; it never
// interprets the store's storage format.
type StateStore interface {
	ReadState(ctx context.Context, key fsm.Key) (fsm.EntityState, bool, error)
	WriteState(ctx context.Context, key fsm.Key, seq int64, s fsm.EntityState) error
}

// Auditor records completed cycles. Optional: an engine without an
// auditor still evaluates, it just leaves no trail.
type Auditor interface {
	RecordCycle(ctx context.Context, seq int64, agg *outcome.AggregateOutcome) error
}

// Engine runs evaluation cycles. One engine is a single writer: cycles
// are serialized under an internal mutex so that state reads, the
// resolution barrier, and state writes of one cycle never interleave
// with another's. Determinism and the exclusive-update discipline on
// entity state both fall out of that.
type Engine struct {
	reg     *primitive.Registry
	states  StateStore
	auditor Auditor
	fsm     *fsm.Resolver
	res     *resolve.Resolver
	clock   *Clock
	tokens  TokenGenerator
	log     *slog.Logger

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the cycle clock, typically to resume after a
// recorded sequence.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTokenGenerator replaces the cycle token source.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithAuditor attaches a cycle recorder.
func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

// WithLogger replaces the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine over a primitive registry and a state store.
func New(reg *primitive.Registry, states StateStore, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		states: states,
		fsm:    fsm.NewResolver(),
		res:    resolve.NewResolver(),
		clock:  NewClock(),
		tokens: UUIDv7Generator{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clock exposes the engine's cycle clock, mainly so callers can report
// the last issued sequence.
func (e *Engine) Clock() *Clock { return e.clock }

// pendingState is a state write deferred until resolution succeeds.
type pendingState struct {
	key  fsm.Key
	next fsm.EntityState
}

// EvaluateCycle evaluates every rule against one snapshot and returns
// the cycle's aggregate outcome.
//
// The cycle runs in three phases. First every rule's stateless
// primitives are evaluated through a cycle-scoped cache; a failure
// here marks only that rule indeterminate. Second, stateful rules read
// their prior entity state and advance the violation FSM; an invalid
// persisted state likewise degrades to indeterminate rather than
// repairing itself. Third, at the resolution barrier, all per-rule
// inputs are combined atomically into the aggregate and the successor
// states are written back.
//
// Cancellation is honored between rules up to the barrier. Once
// resolution starts the cycle completes: a half-applied cycle would be
// worse than a late one.
func (e *Engine) EvaluateCycle(
	ctx context.Context,
	snap *snapshot.Snapshot,
	defs []rule.Definition,
	subject string,
) (*outcome.AggregateOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	token := e.tokens.NewToken()
	seq := e.clock.Next()
	log := e.log.With("cycle", token, "seq", seq, "snapshot_seq", snap.Seq())

	inputs := make([]resolve.Input, 0, len(defs))
	var writes []pendingState
	cache := primitive.NewCache(e.reg)

	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return nil, &RuntimeError{
				Code:       ErrCodeAborted,
				Message:    "cycle canceled before resolution",
				CycleToken: token,
				Err:        err,
			}
		}

		in, pending, err := e.evaluateRule(ctx, cache, snap, def, subject, token)
		if err != nil {
			return nil, err
		}
		if pending != nil {
			writes = append(writes, *pending)
		}
		if in.Err != nil {
			log.Warn("rule indeterminate", "rule", def.ID, "error", in.Err)
		}
		inputs = append(inputs, in)
	}

	meta := resolve.CycleMeta{
		Token:        token,
		SnapshotSeq:  snap.Seq(),
		SnapshotAt:   snap.At(),
		SnapshotHash: snap.Hash(),
	}
	agg, err := e.res.Resolve(meta, inputs)
	if err != nil {
		return nil, err
	}

	for _, w := range writes {
		if err := e.states.WriteState(ctx, w.key, seq, w.next); err != nil {
			return nil, &RuntimeError{
				Code:       ErrCodeStateIO,
				Message:    "write entity state " + w.key.String(),
				CycleToken: token,
				Err:        err,
			}
		}
	}

	if e.auditor != nil {
		if err := e.auditor.RecordCycle(ctx, seq, agg); err != nil {
			return nil, &RuntimeError{
				Code:       ErrCodeAuditIO,
				Message:    "record cycle",
				CycleToken: token,
				Err:        err,
			}
		}
	}

	log.Info("cycle resolved",
		"action", agg.Action,
		"dominant", agg.DominantRule,
		"rules", len(agg.Rules),
		"uncertain", agg.Uncertain,
		"primitives", cache.Len(),
	)
	return agg, nil
}

// evaluateRule produces the resolver input for one rule: stateless
// results, and for stateful rules the FSM result plus the deferred
// state write. Rule-level failures land in Input.Err; only store I/O
// is fatal.
func (e *Engine) evaluateRule(
	ctx context.Context,
	cache *primitive.Cache,
	snap *snapshot.Snapshot,
	def rule.Definition,
	subject string,
	token string,
) (resolve.Input, *pendingState, error) {
	in := resolve.Input{Rule: def, Results: make(map[string]primitive.Result, len(def.Primitives))}

	for _, ref := range def.Primitives {
		res, err := cache.Evaluate(ref, snap)
		if err != nil {
			in.Err = err
			return in, nil, nil
		}
		in.Results[ref.ID] = res
	}

	if def.Stateful == nil {
		return in, nil, nil
	}

	violated, err := resolve.ConditionsSatisfied(def, in.Results)
	if err != nil {
		// A malformed rule is an integration bug, fatal for the cycle.
		return in, nil, err
	}

	key := fsm.Key{RuleID: def.ID, Subject: subject}
	prior, found, err := e.states.ReadState(ctx, key)
	if err != nil {
		return in, nil, &RuntimeError{
			Code:       ErrCodeStateIO,
			Message:    "read entity state " + key.String(),
			CycleToken: token,
			RuleID:     def.ID,
			Err:        err,
		}
	}
	if !found {
		prior = fsm.Initial()
	}

	res, next, err := e.fsm.Resolve(key, *def.Stateful, snap, prior, violated)
	if err != nil {
		in.Err = err
		return in, nil, nil
	}

	in.StateResult = &res
	if next.Phase != prior.Phase || next.EscalationLevel != prior.EscalationLevel {
		in.Transition = &outcome.Transition{
			Subject:       subject,
			From:          prior.Phase,
			To:            next.Phase,
			Level:         next.EscalationLevel,
			CooldownUntil: next.CooldownUntil,
		}
	}
	return in, &pendingState{key: key, next: next}, nil
}
