package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Computes display directives from the active actions in the ledger. The engine holds no state of its own: every call re-reads the ledger.
type Engine struct {
	Ledger    *Ledger
	Hierarchy Hierarchy
	Logger    *slog.Logger
	// upper bound for a single resolution; zero means only the caller's context applies
	Timeout time.Duration
}

func NewEngine(ledger *Ledger, hier Hierarchy, logger *slog.Logger, timeout time.Duration) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Ledger:    ledger,
		Hierarchy: hier,
		Logger:    logger.With("component", "moderation-engine"),
		Timeout:   timeout,
	}
}

// Which entities a subject speaks for when the caller doesn't say.
func DefaultEntities(st SubjectType) []Entity {
	switch st {
	case SubjectAccount:
		return []Entity{EntityAccount, EntityProfile, EntityAvatar}
	case SubjectRecord:
		return []Entity{EntityProfile}
	case SubjectBlob:
		return []Entity{EntityAvatar}
	}
	return nil
}

// Resolves the directives which apply when displaying the subject as the given entities (or its default entities, if none are passed).
//
// Any failure, including the timeout, is returned wrapping ErrUnresolved; it must never be read as "no directives".
func (e *Engine) ResolveDirectives(ctx context.Context, subj Subject, entities ...Entity) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "ResolveDirectives")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subj.String()))

	start := time.Now()
	defer func() {
		directiveResolveDuration.WithLabelValues(string(subj.Type)).Observe(time.Since(start).Seconds())
	}()

	if err := subj.Validate(); err != nil {
		return nil, err
	}
	subj = subj.normalize()
	if len(entities) == 0 {
		entities = DefaultEntities(subj.Type)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	dec, err := e.resolve(ctx, subj, entities)
	if err == nil {
		// a lookup which raced the deadline may have silently lost ancestors
		err = ctx.Err()
	}
	if err != nil {
		directivesUnresolved.WithLabelValues(string(subj.Type)).Inc()
		span.RecordError(err)
		e.Logger.Warn("directive resolution failed", "subject", subj.Key(), "err", err)
		return nil, fmt.Errorf("%w: %w", ErrUnresolved, err)
	}
	return dec, nil
}

func (e *Engine) resolve(ctx context.Context, subj Subject, entities []Entity) (*Decision, error) {
	var ancestors []Subject
	if e.Hierarchy != nil {
		ancestors = e.Hierarchy.AncestorsOf(ctx, subj)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// outermost first, then the subject itself
	applicable := make([]Subject, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		applicable = append(applicable, ancestors[i])
	}
	applicable = append(applicable, subj)

	actions, err := e.Ledger.ListActiveActionsForSubjects(ctx, applicable)
	if err != nil {
		return nil, err
	}

	total, ids := e.fold(applicable, actions)

	dec := &Decision{ActionIDs: ids}
	for _, ent := range entities {
		dec.set(ent, total.For(ent))
	}
	return dec, nil
}

// Merges the policy effect of every action, visiting subjects in applicability order. The merge is commutative, so the order only affects ActionIDs.
func (e *Engine) fold(applicable []Subject, actions []Action) (Effect, []uint64) {
	var total Effect
	ids := []uint64{}
	for _, s := range applicable {
		for _, a := range actions {
			if a.Subject != s {
				continue
			}
			eff, ok := EffectOf(a.Kind, a.Subject.Type)
			if !ok {
				unknownActionKinds.WithLabelValues(string(a.Kind)).Inc()
				e.Logger.Warn("skipping moderation action with unknown kind", "id", a.ID, "kind", a.Kind)
				continue
			}
			total = total.Merge(eff)
			ids = append(ids, a.ID)
		}
	}
	return total, ids
}
