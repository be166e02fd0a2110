package intent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	reply string
	err   error
	calls int
}

func (f *fakeModel) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestResolveRules(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	t.Run("simple intents", func(t *testing.T) {
		cases := map[string]string{
			"balance":          KindBalance,
			"My Balance":       KindBalance,
			"bal":              KindBalance,
			"hi":               KindGreeting,
			"Good morning":     KindGreeting,
			"how far":          KindGreeting,
			"help":             KindHelp,
			"menu":             KindHelp,
			"cancel":           KindCancel,
			"statement":        KindStatement,
			"refer":            KindRefer,
			"invite a friend":  KindRefer,
			"card":             KindCard,
			"virtual card":     KindCard,
		}
		for text, want := range cases {
			got := r.Resolve(ctx, text, UserContext{})
			assert.Equal(t, want, got.Kind, "text %q", text)
		}
	})

	t.Run("transfer with slots", func(t *testing.T) {
		it := r.Resolve(ctx, "Send ₦2,000 to 0123456789 GTBank", UserContext{})
		require.Equal(t, KindTransfer, it.Kind)
		assert.Equal(t, "2000", it.Slots["amount"])
		assert.Equal(t, "0123456789", it.Slots["account_number"])
		assert.Equal(t, "gtbank", it.Slots["bank"])

		it = r.Resolve(ctx, "transfer 5000 to 0011223344 at zenith bank", UserContext{})
		require.Equal(t, KindTransfer, it.Kind)
		assert.Equal(t, "zenith bank", it.Slots["bank"])
	})

	t.Run("airtime with slots", func(t *testing.T) {
		it := r.Resolve(ctx, "buy 500 airtime", UserContext{})
		require.Equal(t, KindAirtime, it.Kind)
		assert.Equal(t, "500", it.Slots["amount"])
		assert.Empty(t, it.Slots["phone"])

		it = r.Resolve(ctx, "recharge 200 airtime for 08012345678", UserContext{})
		require.Equal(t, KindAirtime, it.Kind)
		assert.Equal(t, "08012345678", it.Slots["phone"])
	})

	t.Run("data with slots", func(t *testing.T) {
		it := r.Resolve(ctx, "buy data 1GB mtn", UserContext{})
		require.Equal(t, KindData, it.Kind)
		assert.Equal(t, "1gb", it.Slots["plan"])
		assert.Equal(t, "mtn", it.Slots["network"])

		it = r.Resolve(ctx, "2gb glo 08012345678", UserContext{})
		require.Equal(t, KindData, it.Kind)
		assert.Equal(t, "glo", it.Slots["network"])
		assert.Equal(t, "08012345678", it.Slots["phone"])
	})

	t.Run("empty and unknown without model", func(t *testing.T) {
		assert.Equal(t, KindUnknown, r.Resolve(ctx, "   ", UserContext{}).Kind)
		assert.Equal(t, KindUnknown, r.Resolve(ctx, "what is the meaning of life", UserContext{}).Kind)
	})
}

func TestResolveLLMFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("model reply is parsed", func(t *testing.T) {
		model := &fakeModel{reply: `{"intent":"transfer","slots":{"amount":"3000"},"confidence":0.9}`}
		r := NewResolver(model)

		it := r.Resolve(ctx, "abeg send 3k to my guy", UserContext{FirstName: "Ada"})
		assert.Equal(t, KindTransfer, it.Kind)
		assert.Equal(t, "3000", it.Slots["amount"])
		assert.Equal(t, 1, model.calls)
	})

	t.Run("code fences are tolerated", func(t *testing.T) {
		model := &fakeModel{reply: "```json\n{\"intent\":\"balance\",\"confidence\":0.8}\n```"}
		r := NewResolver(model)
		assert.Equal(t, KindBalance, r.Resolve(ctx, "wetin remain for my account", UserContext{}).Kind)
	})

	t.Run("low confidence collapses to unknown", func(t *testing.T) {
		model := &fakeModel{reply: `{"intent":"transfer","confidence":0.3}`}
		r := NewResolver(model)
		assert.Equal(t, KindUnknown, r.Resolve(ctx, "hmm money things", UserContext{}).Kind)
	})

	t.Run("invalid kind collapses to unknown", func(t *testing.T) {
		model := &fakeModel{reply: `{"intent":"rob_bank","confidence":0.99}`}
		r := NewResolver(model)
		assert.Equal(t, KindUnknown, r.Resolve(ctx, "do something", UserContext{}).Kind)
	})

	t.Run("model error collapses to unknown", func(t *testing.T) {
		model := &fakeModel{err: fmt.Errorf("upstream down")}
		r := NewResolver(model)
		assert.Equal(t, KindUnknown, r.Resolve(ctx, "anything odd", UserContext{}).Kind)
	})

	t.Run("rule hits never call the model", func(t *testing.T) {
		model := &fakeModel{reply: `{"intent":"transfer","confidence":0.9}`}
		r := NewResolver(model)
		r.Resolve(ctx, "balance", UserContext{})
		assert.Zero(t, model.calls)
	})
}
