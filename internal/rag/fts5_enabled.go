//go:build sqlite_fts5

package rag

const fts5Compiled = true
