// Package docflow provides a durable workflow runtime for document
// approval, built on deterministic replay.
//
// Docflow is designed for services that coordinate long-running human
// approval flows: a workflow program describes the whole flow as
// ordinary sequential Go code, while the runtime persists every
// asynchronous fact (activity results, timer fires, external events)
// to an append-only history and replays the program against it. The
// process can crash and restart at any point; replay reconstructs the
// exact suspension the program was at and continues.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Runtime
//  2. Program
//  3. Activity
//  4. External Events
//  5. Durable Timers
//
// # Runtime
//
// The Runtime stores workflow instances and their histories, drives
// replay turns, and provides APIs to:
//   - start instances
//   - raise external events into running instances
//   - terminate and purge instances
//   - read instance status and output
//
// Runtimes can be backed by different history stores:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//
// # Program
//
// A Program is a deterministic function over an orchestration.Context:
//
//	func(ctx *orchestration.Context) (any, error)
//
// On every turn the program runs from the top. Calls that would perform
// asynchronous work first consult history: a recorded outcome is
// returned synchronously without re-issuing the side effect; a missing
// one suspends the turn after persisting the scheduling fact. Programs
// must therefore be deterministic: no time.Now, no rand, no I/O. Use
// ctx.Now for time and activities for everything effectful.
//
// # Activity
//
// Activities are the workflow's hands: external operations (read a
// document, create a task, copy a file, send mail) executed out-of-band
// on a worker pool with retry for transient failures. Their logical
// effect inside the program is exactly-once even though dispatch is
// at-least-once, because completions are recorded idempotently.
//
// # External Events
//
// Human decisions arrive as named events raised into an instance. The
// included change-feed translator watches an approval task list and
// raises the matching events automatically. Programs wait on events
// with ctx.WaitForEvent and race alternatives with ctx.WhenAny.
//
// # Durable Timers
//
// ctx.CreateTimer schedules a deadline that survives restarts: the fire
// time is a history fact, re-armed from history on recovery. Timers
// compose with WhenAny to bound waits, and can be cancelled when a
// competing branch wins.
//
// The approval package contains the ready-made document publish
// workflow; LocalRunner bundles everything into a single in-process
// runtime for development and tests.
package docflow
