// Moderation decision core: a ledger of moderation actions and user reports, and the engine which turns the currently active actions into display directives for viewers.
//
// Actions and reports are written through [Ledger], which keeps every state transition (action reversal, report resolution) to a single conditional write inside one database transaction. Directives are never stored: [Engine.ResolveDirectives] recomputes them from the ledger on every call, merging contributions from the subject itself and from its ancestors (see [Hierarchy]) with a most-restrictive-wins rule.
package moderation
