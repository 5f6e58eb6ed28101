package types

// EventKind classifies an inbound compliance notification.
type EventKind string

const (
	KindSingleItem       EventKind = "configuration_item"
	KindSnapshotManifest EventKind = "snapshot_manifest"
	KindSnapshotItem     EventKind = "snapshot_item"
	KindManagedRuleEvent EventKind = "managed_rule"
	KindResourceDeleted  EventKind = "resource_deleted"
)

// ComplianceEvent is one inbound notification after classification.
// Created by ingress, consumed once, never persisted.
type ComplianceEvent struct {
	Kind      EventKind
	AccountID string
	Region    string

	// Item is the current resource state. Nil for snapshot manifests.
	Item *ConfigurationItem

	// PrevItem holds the prior state for resource deletions, where the
	// resource itself no longer exists.
	PrevItem *ConfigurationItem

	// Snapshot object reference, set only for KindSnapshotManifest.
	SnapshotBucket string
	SnapshotKey    string
}
