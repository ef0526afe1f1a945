// Package persistence stores the run-mode controller's warm-reset snapshot.
//
// The snapshot is JSON so that it can be inspected and edited in the field.
// Only the mode is meaningful across a reboot: monotonic timestamps restart
// at zero with every boot and are kept for diagnostics only.
package persistence
