package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("moderation")

var actionsTaken = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_actions_taken",
	Help: "Number of moderation actions created",
}, []string{"kind", "subject_type"})

var actionsReversed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_actions_reversed",
	Help: "Number of moderation actions reversed",
}, []string{"kind"})

var reportsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_reports_created",
	Help: "Number of moderation reports filed",
}, []string{"reason_type", "subject_type"})

var reportsResolved = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderation_reports_resolved",
	Help: "Number of moderation reports linked to a resolving action",
})

var ledgerConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_ledger_conflicts",
	Help: "Number of ledger mutations rejected because of existing state (exclusive kind already active, already reversed, already resolved)",
}, []string{"op"})

var directiveResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "moderation_directive_resolve_duration_sec",
	Help: "Duration of directive resolution queries",
}, []string{"subject_type"})

var directivesUnresolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_directives_unresolved",
	Help: "Number of directive queries which could not be answered",
}, []string{"subject_type"})

var unknownActionKinds = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_unknown_action_kinds",
	Help: "Number of active actions skipped during resolution because their kind has no policy entry",
}, []string{"kind"})
