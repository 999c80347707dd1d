// Package domain holds the shared models of the vendor sync pipeline:
// staging records, normalized rows, batch jobs and the error taxonomy.
// It has no dependencies on storage or transport packages.
package domain
