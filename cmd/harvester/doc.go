// Package main hosts the email harvester entrypoint.
//
// Architecture overview:
//   - Discovery: categories expand into search queries answered by a fixed-priority provider chain
//     (SerpApi, Bing, DuckDuckGo HTML). A seeds file bypasses search entirely.
//   - Crawl: candidates flow through a bounded in-memory queue to a fixed worker pool sized by
//     crawler.workers. Each worker checks robots.txt, waits a per-worker jitter (and the optional
//     per-host token bucket), fetches with Colly, chromedp or the auto strategy, extracts addresses
//     and follows same-site contact/about links once per run.
//   - Post-processing: extractions merge in the sharded deduplicator, every email domain is MX
//     checked once, the enrichment gate plans (and in execute mode spends) a per-run budget of
//     domain-search and verification calls, and each record is scored High/Medium/Low.
//   - Output: the CSV is written to run.output. Optional sinks upload it to GCS or a local
//     directory, upsert records into Postgres and publish a run summary to Pub/Sub.
//
// Modes:
//   - One-shot (default): run once and exit non-zero when the crawl was interrupted.
//   - -serve: start the operator API and run harvests submitted via POST /v1/runs.
//
// Quick checklist:
//   - Keys: SERPAPI_KEY, BING_API_KEY and HUNTER_API_KEY (or the HARVESTER_-prefixed config keys).
//   - Run locally: go run ./cmd/harvester -categories "dentist,plumber" -output leads.csv
//   - Paid verification needs enrichment.mode=execute and enrichment.confirm=true.
//   - Set tracing.otlp_endpoint (e.g. http://localhost:4318) to ship spans to a collector.
package main
