// Package crawler implements the crawl engine: the page record model, the
// collaborator interfaces, and the Controller that drives the frontier,
// domain policy and rate-limited fetch scheduling.
package crawler
