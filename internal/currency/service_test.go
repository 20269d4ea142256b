package currency

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/prefs"
)

type fetchCall struct {
	entity string
	force  bool
}

type stubBackend struct {
	mu    sync.Mutex
	ctx   backend.CurrencyContext
	calls []fetchCall
}

func (s *stubBackend) CurrencyContext(ctx context.Context, entity string, reporting []string, force bool) (backend.CurrencyContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fetchCall{entity: entity, force: force})
	return s.ctx, nil
}

func inrContext(rates ...Rate) backend.CurrencyContext {
	return backend.CurrencyContext{
		Entity: "IN01",
		LocalCurrency: &backend.CurrencyInfo{
			EntityName: "India Ops", DefaultCurrency: "INR", CurrencySymbol: "₹", CurrencyName: "Indian Rupee", DecimalPlaces: 2,
		},
		Rates: rates,
	}
}

func usdRate(v string) Rate {
	return Rate{BaseCurrency: "INR", TargetCurrency: "USD", Rate: decimal.RequireFromString(v)}
}

func TestLoadDefaultsSelectionToLocalAndPersists(t *testing.T) {
	ctx := context.Background()
	kv := prefs.Bind(prefs.NewMemoryStore(), "c1")
	stub := &stubBackend{ctx: inrContext()}
	svc := NewService(stub, kv, nil, nil)
	svc.SwitchEntity(ctx, "IN01")

	state, err := svc.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "INR", state.Selected)
	require.Equal(t, "₹", state.SelectedInfo.CurrencySymbol)
	require.Equal(t, []string{"USD", "INR"}, state.ReportingCurrencies)

	stored, ok, _ := kv.Get(ctx, prefs.CurrencyKey("IN01"))
	require.True(t, ok)
	require.Equal(t, "INR", stored)
	require.Equal(t, []fetchCall{{entity: "IN01", force: false}}, stub.calls)
}

func TestConvertIdentityForBaseCurrency(t *testing.T) {
	state := State{
		Selected: "INR",
		Local:    &Info{DefaultCurrency: "INR"},
		Rates:    []Rate{{BaseCurrency: "INR", TargetCurrency: "INR", Rate: decimal.NewFromInt(3)}},
	}
	for _, v := range []string{"0", "-1250.75", "99999999.99"} {
		value := decimal.RequireFromString(v)
		require.True(t, value.Equal(state.Convert(value)), v)
	}
}

func TestConvertUsesMatchingRate(t *testing.T) {
	state := State{Selected: "USD", Local: &Info{DefaultCurrency: "INR"}, Rates: []Rate{usdRate("0.012")}}
	got := state.Convert(decimal.NewFromInt(1000))
	require.Equal(t, "12", got.String())
}

func TestSelectingCurrencyWithoutRateIsNoOp(t *testing.T) {
	ctx := context.Background()
	kv := prefs.Bind(prefs.NewMemoryStore(), "c1")
	stub := &stubBackend{ctx: inrContext()}
	svc := NewService(stub, kv, nil, nil)
	svc.SwitchEntity(ctx, "IN01")
	_, err := svc.Load(ctx)
	require.NoError(t, err)

	state, err := svc.SetSelected(ctx, "usd")
	require.NoError(t, err)
	require.Equal(t, "USD", state.Selected)
	require.Equal(t, "$", state.SelectedInfo.CurrencySymbol)

	raw := decimal.RequireFromString("1523.40")
	require.True(t, raw.Equal(state.Convert(raw)))

	require.Len(t, stub.calls, 2)
	require.True(t, stub.calls[1].force, "non-local selection forces a refresh")
	stored, _, _ := kv.Get(ctx, prefs.CurrencyKey("IN01"))
	require.Equal(t, "USD", stored)
}

func TestPersistedSelectionForcesRefreshOnReload(t *testing.T) {
	ctx := context.Background()
	kv := prefs.Bind(prefs.NewMemoryStore(), "c1")
	require.NoError(t, kv.Set(ctx, prefs.CurrencyKey("IN01"), "USD"))
	stub := &stubBackend{ctx: inrContext(usdRate("0.012"))}
	svc := NewService(stub, kv, nil, nil)
	svc.SwitchEntity(ctx, "IN01")

	state, err := svc.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "USD", state.Selected)
	require.False(t, stub.calls[0].force, "local currency unknown on first load")

	_, err = svc.Load(ctx)
	require.NoError(t, err)
	require.True(t, stub.calls[1].force)
}

func TestSelectedInfoFallsBackToLocal(t *testing.T) {
	local := &Info{DefaultCurrency: "INR", CurrencySymbol: "₹"}
	require.Same(t, local, selectedInfo("XYZ", local))
	require.Same(t, local, selectedInfo("INR", local))
	require.Equal(t, "€", selectedInfo("EUR", local).CurrencySymbol)
	require.Nil(t, selectedInfo("XYZ", nil))
}

func TestSetSelectedValidatesCode(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&stubBackend{ctx: inrContext()}, prefs.Bind(prefs.NewMemoryStore(), "c1"), nil, nil)
	_, err := svc.SetSelected(ctx, "USD")
	require.ErrorIs(t, err, ErrNoEntity)

	svc.SwitchEntity(ctx, "IN01")
	_, err = svc.SetSelected(ctx, "dollars")
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	usd := Info{DefaultCurrency: "USD", CurrencySymbol: "$", DecimalPlaces: 2}
	state := State{Selected: "USD", SelectedInfo: &usd}
	require.Equal(t, "$1,234.50", state.Format(decimal.RequireFromString("1234.5")))
	require.Equal(t, "-$0.13", state.Format(decimal.RequireFromString("-0.126")))
}
