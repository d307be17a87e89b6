// Package migration applies an ordered list of schema changesets to an
// environment's database.
//
// Driver guarantees ordering and halt-on-first-failure; whether a changeset
// was already applied is the Tool's own bookkeeping. GooseTool runs each
// changeset directory with goose over pgx, keeping a separate version
// table per changeset so changesets never see each other's history.
package migration
