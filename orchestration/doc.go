// Package orchestration provides the programming model for durable
// workflow programs and the deterministic replay executor that runs
// them.
//
// A workflow program is an ordinary Go function:
//
//	func Approve(ctx *orchestration.Context) (any, error) {
//		var req Request
//		if err := ctx.Input(&req); err != nil {
//			return nil, err
//		}
//		var item Item
//		if err := ctx.CallActivity("FetchItem", req).Get(&item); err != nil {
//			return nil, err
//		}
//		approved := ctx.WaitForEvent("Approved")
//		deadline := ctx.CreateTimer(ctx.Now().Add(time.Hour))
//		if ctx.WhenAny(approved, deadline) == approved {
//			deadline.Cancel()
//		}
//		return nil, nil
//	}
//
// The program is re-executed from the top on every turn. Each
// asynchronous primitive consults the instance's history first: if the
// outcome is already recorded the call returns synchronously without
// re-issuing any side effect; otherwise the primitive records its
// scheduling fact and the turn suspends. Activity execution, timer
// firing, and event delivery happen elsewhere (see internal/engine);
// their results arrive as new history facts that trigger the next turn.
//
// # Determinism
//
// Programs must make the same sequence of primitive calls given the
// same history prefix. Do not read the wall clock (use Context.Now),
// do not use random values, and do not iterate maps where order leaks
// into primitive calls. The executor verifies each schedule-type call
// against the recorded fact with the same task id and fails the
// instance on a mismatch rather than silently corrupting history.
package orchestration
