package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPlugin struct {
	name string

	quotaCalls []int64
	usageCalls int
	failHooks  bool
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) OnUsageRecorded(_ context.Context, _, _ string, _ int64) error {
	p.usageCalls++
	if p.failHooks {
		return errors.New("hook blew up")
	}
	return nil
}

func (p *recordingPlugin) OnQuotaExceeded(_ context.Context, _, _ string, used, _ int64) error {
	p.quotaCalls = append(p.quotaCalls, used)
	return nil
}

type namedOnly struct{ name string }

func (p namedOnly) Name() string { return p.name }

type providerPlugin struct {
	name     string
	provider interface{}
}

func (p providerPlugin) Name() string          { return p.name }
func (p providerPlugin) Provider() interface{} { return p.provider }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(&recordingPlugin{name: "rec"}))
	require.NoError(t, r.Register(namedOnly{name: "bare"}))

	t.Run("duplicate name rejected", func(t *testing.T) {
		err := r.Register(namedOnly{name: "rec"})
		assert.Error(t, err)
	})

	t.Run("nil and unnamed rejected", func(t *testing.T) {
		assert.Error(t, r.Register(nil))
		assert.Error(t, r.Register(namedOnly{}))
	})

	t.Run("lookup", func(t *testing.T) {
		p, ok := r.Get("rec")
		require.True(t, ok)
		assert.Equal(t, "rec", p.Name())

		_, ok = r.Get("missing")
		assert.False(t, ok)

		assert.ElementsMatch(t, []string{"rec", "bare"}, r.List())
	})
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	rec := &recordingPlugin{name: "rec"}
	require.NoError(t, r.Register(rec))
	require.NoError(t, r.Register(namedOnly{name: "bare"}))

	t.Run("only implementers are called", func(t *testing.T) {
		r.EmitUsageRecorded(ctx, "user_1", "message", 3)
		r.EmitQuotaExceeded(ctx, "user_1", "message", 10, 10)

		assert.Equal(t, 1, rec.usageCalls)
		assert.Equal(t, []int64{10}, rec.quotaCalls)
	})

	t.Run("hook errors do not stop dispatch", func(t *testing.T) {
		failing := &recordingPlugin{name: "failing", failHooks: true}
		require.NoError(t, r.Register(failing))

		r.EmitUsageRecorded(ctx, "user_1", "message", 4)

		assert.Equal(t, 2, rec.usageCalls)
		assert.Equal(t, 1, failing.usageCalls)
	})
}

func TestRegistryBillingProviders(t *testing.T) {
	r := NewRegistry(nil)

	assert.Empty(t, r.BillingProviders())

	marker := struct{ id int }{id: 7}
	require.NoError(t, r.Register(providerPlugin{name: "stripe-ish", provider: marker}))

	providers := r.BillingProviders()
	require.Len(t, providers, 1)
	assert.Equal(t, marker, providers[0].Provider())
}
