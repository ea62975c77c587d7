package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHelpersAreSafeAndCount(t *testing.T) {
	Init(nil, nil)

	before := testutil.ToFloat64(stepTotal.WithLabelValues("components", ResultError))
	ObserveStep("components", ResultError, 5*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(stepTotal.WithLabelValues("components", ResultError)))

	SetArmedTimers(3)
	require.Equal(t, float64(3), testutil.ToFloat64(armedTimers))

	IncValidationRejected("")
	require.GreaterOrEqual(t, testutil.ToFloat64(validationTotal.WithLabelValues("payload")), float64(1))

	ObserveFeedExport("", "", time.Millisecond)
	require.GreaterOrEqual(t, testutil.ToFloat64(feedExportTotal.WithLabelValues("unknown", ResultSuccess)), float64(1))
}
