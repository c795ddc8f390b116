// Package harvest defines the core types, interfaces, and shared helpers used
// by the email harvester: candidate URLs, crawl tasks, page results, email
// extractions and records, plus the fetch retry policy.
package harvest
