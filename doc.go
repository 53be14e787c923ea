// Package main hosts the clipcrawler service entrypoint.
//
// Architecture overview:
//   - Assignments: internal/dispatch pulls crawl assignments (one target per
//     message) from a Pub/Sub subscription, one at a time, and acks or nacks
//     based on whether the failure is tied to the target or to the run.
//     Targets can also be crawled directly via the 'crawl' subcommand.
//   - Orchestration: internal/crawler drives the per-target crawl: a cheap
//     HTTP existence probe, a listing walk that upserts lightweight per-item
//     rows, then a detail sweep executed in batches whose candidates are
//     recomputed from the ledger before every batch, so an interrupted sweep
//     resumes exactly where it stopped.
//   - Extraction: internal/browser owns a shared Chrome process (chromedp)
//     with a persistent profile for login cookies; internal/extract knows the
//     site's DOM and turns pages into light and heavy records, preferring
//     in-page clicks over direct URL loads to look like a human.
//   - Persistence & fanout: internal/sink commits records to the Postgres
//     ledger (internal/ledger), writes comment snapshots to blob storage
//     (GCS or local), and publishes a compact event per committed record to
//     Pub/Sub. The ledger write is the durability boundary; publication is
//     best effort.
//   - Configuration & plumbing: Viper populates config from env/files with
//     the CLIPCRAWLER_ prefix; zap provides structured logging; Prometheus
//     metrics and health endpoints are served by internal/api during listen
//     mode.
//
// Operational notes:
//   - Concurrency model: one assignment at a time per process; the browser
//     session is the scarce resource and each crawl gets a fresh tab against
//     the shared Chrome process. Shutdown is coordinated via context
//     cancellation from main through the listener to the orchestrator.
//   - Pacing: navigations are rate limited (browser.nav_qps) and heavy items
//     are spaced by crawl.item_pause_ms; the existence probe keeps its own
//     per-host delay.
//   - Resumability: interrupting a sweep loses at most the in-flight item;
//     everything committed stays committed and the next run picks up the
//     remaining candidates from the ledger.
//
// Quick checklist:
//   - Run 'clipcrawler login' once on a machine with a display to seed the
//     persistent profile with site cookies.
//   - Configure CLIPCRAWLER_LEDGER_DSN, CLIPCRAWLER_PUBLISHER_PROJECT_ID,
//     CLIPCRAWLER_SNAPSHOTS_BUCKET, and CLIPCRAWLER_DISPATCH_SUBSCRIPTION
//     (or pass a config file with --config) before 'listen'.
//   - Run locally: go run . crawl some-creator --config config.yaml;
//     with memory providers this needs no external services at all.
package main
