// Package task tracks onboarding tasks: their result, the masked declaration,
// and the config snapshots used for forward-fill and rollback.
package task
