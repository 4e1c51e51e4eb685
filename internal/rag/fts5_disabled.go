//go:build !sqlite_fts5

package rag

// Without the sqlite_fts5 tag go-sqlite3 ships no FTS5 module and every
// MATCH query fails, so OpenFTSStore refuses to open the index.
const fts5Compiled = false
