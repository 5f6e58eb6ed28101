// Package router classifies inbound change notifications and fans them
// out to the check dispatcher, one call per (environment, resource).
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/stratumsec/warden/types"
)

// ErrUnclassifiable marks a notification that is neither a
// configuration item, a deletion, nor a snapshot manifest. Callers
// treat it as a logged no-op, not a delivery failure.
var ErrUnclassifiable = errors.New("notification is not classifiable")

// Subject-line extraction patterns. The delivery envelope carries the
// source account and region in free text.
var (
	accountPattern = regexp.MustCompile(`\b(\d{12})\b`)
	regionPattern  = regexp.MustCompile(`\b([a-z]{2}(?:-gov)?-[a-z]+-\d)\b`)
)

const snapshotDeliveryCompleted = "ConfigurationSnapshotDeliveryCompleted"
const complianceChange = "ComplianceChangeNotification"

// Envelope is one inbound delivery record: a subject line plus a JSON
// message body.
type Envelope struct {
	Subject string `json:"Subject"`
	Message string `json:"Message"`
}

// notificationBody is the union of the message shapes the router
// understands.
type notificationBody struct {
	MessageType           string                   `json:"messageType,omitempty"`
	ConfigurationItem     *types.ConfigurationItem `json:"configurationItem,omitempty"`
	ConfigurationItemDiff *configurationItemDiff   `json:"configurationItemDiff,omitempty"`
	S3Bucket              string                   `json:"s3Bucket,omitempty"`
	S3ObjectKey           string                   `json:"s3ObjectKey,omitempty"`

	// Compliance-change notifications carry the resource inline.
	ResourceType string `json:"resourceType,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
	AccountID    string `json:"awsAccountId,omitempty"`
	Region       string `json:"awsRegion,omitempty"`
}

// configurationItemDiff describes a deletion. The prior resource state
// lives either at the top level or under the Configuration changed
// property, depending on the provider's notification version.
type configurationItemDiff struct {
	ChangeType        string                     `json:"changeType,omitempty"`
	PreviousItem      *types.ConfigurationItem   `json:"previousConfigurationItem,omitempty"`
	ChangedProperties map[string]changedProperty `json:"changedProperties,omitempty"`
}

type changedProperty struct {
	ChangeType    string                   `json:"changeType,omitempty"`
	PreviousValue *types.ConfigurationItem `json:"previousValue,omitempty"`
}

func (d *configurationItemDiff) priorItem() *types.ConfigurationItem {
	if d.PreviousItem != nil {
		return d.PreviousItem
	}
	if prop, ok := d.ChangedProperties["Configuration"]; ok {
		return prop.PreviousValue
	}
	return nil
}

// Classify parses the envelope into a ComplianceEvent. Unrecognized
// bodies return ErrUnclassifiable.
func Classify(envelope Envelope) (types.ComplianceEvent, error) {
	var body notificationBody
	if err := json.Unmarshal([]byte(envelope.Message), &body); err != nil {
		return types.ComplianceEvent{}, fmt.Errorf("%w: %v", ErrUnclassifiable, err)
	}

	event := types.ComplianceEvent{
		AccountID: firstMatch(accountPattern, envelope.Subject),
		Region:    firstMatch(regionPattern, envelope.Subject),
	}

	switch {
	case body.MessageType == snapshotDeliveryCompleted:
		if body.S3Bucket == "" || body.S3ObjectKey == "" {
			return types.ComplianceEvent{}, fmt.Errorf("%w: snapshot manifest without object reference", ErrUnclassifiable)
		}
		event.Kind = types.KindSnapshotManifest
		event.SnapshotBucket = body.S3Bucket
		event.SnapshotKey = body.S3ObjectKey

	case body.ConfigurationItemDiff != nil:
		event.Kind = types.KindResourceDeleted
		event.Item = body.ConfigurationItem
		event.PrevItem = body.ConfigurationItemDiff.priorItem()
		if event.PrevItem == nil {
			return types.ComplianceEvent{}, fmt.Errorf("%w: deletion without prior state", ErrUnclassifiable)
		}

	case body.ConfigurationItem != nil:
		if body.ConfigurationItem.Status == types.StatusDeleted {
			event.Kind = types.KindResourceDeleted
			event.Item = body.ConfigurationItem
			event.PrevItem = body.ConfigurationItem
		} else {
			event.Kind = types.KindSingleItem
			event.Item = body.ConfigurationItem
		}

	case body.MessageType == complianceChange && body.ResourceID != "":
		event.Kind = types.KindManagedRuleEvent
		event.Item = &types.ConfigurationItem{
			ResourceType: body.ResourceType,
			ResourceID:   body.ResourceID,
			AccountID:    body.AccountID,
			Region:       body.Region,
			Status:       types.StatusOK,
		}

	default:
		return types.ComplianceEvent{}, ErrUnclassifiable
	}

	fillOrigin(&event)
	if event.AccountID == "" {
		return types.ComplianceEvent{}, fmt.Errorf("%w: no resolvable account id", ErrUnclassifiable)
	}
	return event, nil
}

// fillOrigin backfills account and region from the item when the
// subject line carried neither.
func fillOrigin(event *types.ComplianceEvent) {
	item := event.Item
	if item == nil {
		item = event.PrevItem
	}
	if item == nil {
		return
	}
	if event.AccountID == "" {
		event.AccountID = item.AccountID
	}
	if event.Region == "" {
		event.Region = item.Region
	}
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
