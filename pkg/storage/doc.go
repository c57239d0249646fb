/*
Package storage persists onboarding task records in BoltDB.

Each task is stored as JSON in the "tasks" bucket, keyed by task id. The
"meta" bucket holds the mostRecentTask pointer, which the agent reads on
start to find a task left REBOOTING or REVOKING by a previous process.

	<dataDir>/onboard.db
	├── tasks   (task id -> JSON task record)
	└── meta    (mostRecentTask -> task id)

Reads run in db.View and may proceed concurrently; writes are serialized
by db.Update and committed with fsync.

Declarations reach this package already masked. The only secret material in
a record is Task.Pending, which is encrypted by the caller.
*/
package storage
