//go:build !integration && !e2e
// +build !integration,!e2e

package proxymetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAttempt_IncrementsCounter(t *testing.T) {
	m := NewMetrics()
	m.RecordAttempt("u1", "primary", 50, true)
	m.RecordAttempt("u1", "primary", 75, false)

	success := testutil.ToFloat64(m.attemptsTotal.WithLabelValues("u1", "primary", "success"))
	errorCount := testutil.ToFloat64(m.attemptsTotal.WithLabelValues("u1", "primary", "error"))

	assert.Equal(t, float64(1), success)
	assert.Equal(t, float64(1), errorCount)
}

func TestRecordAttempt_ObservesDuration(t *testing.T) {
	m := NewMetrics()
	m.RecordAttempt("u1", "primary", 500, true)

	count := testutil.CollectAndCount(m.attemptDuration)
	assert.Equal(t, 1, count)
}
