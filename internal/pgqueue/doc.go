// Package pgqueue implements queue.Store on PostgreSQL using lib/pq.
//
// Tables are prefixed with iencode_ so the store can share a database with
// other applications. Status filters are passed as text arrays and matched
// with = ANY; retry history is kept in a JSONB column.
package pgqueue
