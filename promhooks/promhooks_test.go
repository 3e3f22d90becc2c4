package promhooks

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := New(reg)
	require.NoError(t, err)

	h.Lookup("shop", "hit")
	h.Lookup("shop", "hit")
	h.Lookup("shop", "stale")
	h.RebuildScheduled("cache:shop:1")
	h.RebuildDropped("cache:shop:2")
	h.ProviderError("get", errors.New("timeout"))

	require.Equal(t, 2.0, testutil.ToFloat64(h.Lookups.WithLabelValues("shop", "hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.Lookups.WithLabelValues("shop", "stale")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.Rebuilds.WithLabelValues("dropped")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.ProviderErrs.WithLabelValues("get")))

	_, err = New(reg)
	require.Error(t, err, "double registration must fail")
}
