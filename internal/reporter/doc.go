// Package reporter periodically logs the statistics of the running
// components and serves the same snapshot to the HTTP stats endpoint.
package reporter
