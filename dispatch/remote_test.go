package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/warden/types"
)

type fakeInvoker struct {
	payloads []any
	err      error
}

func (f *fakeInvoker) InvokeAsync(ctx context.Context, payload any) error {
	f.payloads = append(f.payloads, payload)
	return f.err
}

func TestRemoteDispatchEncodesWorkUnit(t *testing.T) {
	invoker := &fakeInvoker{}
	r := NewRemote(invoker)

	item := &types.ConfigurationItem{ResourceType: types.ResourceTypeInstance, ResourceID: "i-1"}
	r.Dispatch(context.Background(),
		types.Environment{ID: "env-1", AccountID: "123456789012"},
		"eu-west-1",
		types.KindSingleItem,
		item,
		types.ScopeSet{"vpc-1": true},
	)

	require.Len(t, invoker.payloads, 1)
	payload, ok := invoker.payloads[0].(Payload)
	require.True(t, ok)
	assert.Equal(t, "env-1", payload.Environment.ID)
	assert.Equal(t, types.KindSingleItem, payload.Kind)
	assert.Equal(t, "i-1", payload.Item.ResourceID)
	assert.True(t, payload.Scope.Contains("vpc-1"))
}

func TestRemoteDispatchSwallowsInvokerError(t *testing.T) {
	invoker := &fakeInvoker{err: errors.New("function not found")}
	r := NewRemote(invoker)

	// Must not panic or propagate; siblings continue.
	r.Dispatch(context.Background(),
		types.Environment{ID: "env-1"},
		"eu-west-1",
		types.KindSingleItem,
		&types.ConfigurationItem{ResourceID: "i-1"},
		nil,
	)

	assert.Len(t, invoker.payloads, 1)
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	original := Payload{
		Environment: types.Environment{ID: "env-1"},
		Region:      "eu-west-1",
		Kind:        types.KindSnapshotItem,
		Item:        &types.ConfigurationItem{ResourceType: types.ResourceTypeVPC, ResourceID: "vpc-1"},
		Scope:       types.ScopeSet{"vpc-1": true},
	}
	body, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := DecodePayload(body)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodePayloadRejectsMissingResource(t *testing.T) {
	_, err := DecodePayload([]byte(`{"environment":{"id":"env-1"},"region":"eu-west-1"}`))
	assert.Error(t, err)
}

func TestDecodePayloadRejectsBadJSON(t *testing.T) {
	_, err := DecodePayload([]byte(`{`))
	assert.Error(t, err)
}
