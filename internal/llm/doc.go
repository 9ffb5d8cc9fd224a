/*
Package llm implements the resilient invocation core of the relay: calling
an OpenAI-compatible completion endpoint with one of several interchangeable
API keys, failing over across keys automatically, streaming partial output,
and racing a user abort decision against the attempt loop.

# Architecture Overview

1. Credentials (credentials.go)
  - Parse the raw comma-separated key string into an ordered,
    deduplicated list
  - Report how many blanks and duplicates were removed

2. Client (client.go)
  - ModelClient is the single-call contract against the remote endpoint
  - OpenAIClient implements it over HTTP with optional SSE streaming

3. Cancellation Gate (gate.go)
  - Races a "continue in background / abort" decision against the loop
  - The invoker samples the answer between attempts, never mid-call

4. Failover Invoker (invoker.go)
  - Sequential attempts in round-robin order from a persistent cursor
  - First success wins; per-key failures are recorded and skipped
  - Returns a tagged Outcome: success, suspended or failure

5. Connectivity Probe (probe.go)
  - Tests every key in list order for diagnostics
  - Never mutates the rotation cursor

6. Catalog Sync (catalog.go)
  - Refreshes the model catalog from the listing endpoint
  - First key with a non-empty listing wins; the rest are still tried
    so every invalid key is diagnosed

7. Serve Mode (handlers.go, token.go)
  - HTTP API exposing the same operations, guarded by JWT bearer tokens

# Failover Semantics

Attempts are strictly sequential. The rotation cursor advances on every
attempt regardless of its result, so repeated invocations spread load
across keys over the process lifetime instead of always preferring the
first key. Cancellation is cooperative: an attempt already in flight runs
to completion, and the suspended flag is observed before the next attempt
starts.

Credential secrets never appear unmasked in logs or surfaced errors beyond
what a raw provider error message may already contain.
*/
package llm
