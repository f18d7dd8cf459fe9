/*
Package engine implements the account-abstraction execution core: signed
operations are validated and executed in ordered batches by an EntryPoint
against factory-deployed accounts, with execution cost settled against the
sender's deposit or a sponsor's prepaid balance.

The engine is deliberately single-threaded per batch. Validation is a strict
pre-pass: any failure aborts the whole batch before anything executes.
Execution failures are the opposite: each operation runs behind a fault
boundary, its cost is still metered and collected, and the rest of the batch
continues.

Nothing in here talks to a chain. Balances, deployed accounts, and callable
targets live in a WorldState; the append-only EventStream is the engine's only
output channel besides return values.
*/
package engine
