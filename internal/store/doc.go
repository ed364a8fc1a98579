// Package store persists Matrix sync state for sonar-matrix using SQLite.
//
// SQLiteStore implements mautrix.SyncStore: the sync filter ID and
// next-batch token are kept per user in a single sync_state table, so a
// restarted bot resumes from its last sync position instead of replaying
// room history. Nothing else is stored; conversation history never
// touches the database.
//
// The store uses SQLite in WAL mode and creates its schema automatically.
package store
