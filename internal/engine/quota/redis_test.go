package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_ScriptArgs(t *testing.T) {
	s := NewRedisStore(nil, "")
	now := time.Date(2026, 3, 10, 14, 22, 41, 0, time.UTC)

	keys, args := s.scriptArgs("cred-1", []Limit{
		{Window: WindowMonthly, Max: 1000},
		{Window: WindowMinute, Max: 60},
	}, now, true)

	assert.Equal(t, []string{
		"divgate:usage:{cred-1}:monthly",
		"divgate:usage:{cred-1}:minute",
	}, keys)

	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	minuteStart := time.Date(2026, 3, 10, 14, 22, 0, 0, time.UTC)
	assert.Equal(t, []interface{}{
		"1",
		monthStart.Unix(), int64(1000), int64(31 * 24 * 3600 * 2),
		minuteStart.Unix(), int64(60), int64(120),
	}, args)

	_, args = s.scriptArgs("cred-1", []Limit{{Window: WindowMinute, Max: 60}}, now, false)
	assert.Equal(t, "0", args[0])
}

func TestParseReply(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 22, 41, 0, time.UTC)
	limits := []Limit{
		{Window: WindowMonthly, Max: 1000},
		{Window: WindowMinute, Max: 60},
	}

	t.Run("admitted", func(t *testing.T) {
		out, err := parseReply([]interface{}{int64(0), int64(412), int64(7)}, limits, now)
		require.NoError(t, err)
		assert.True(t, out.Admitted)
		assert.Empty(t, out.Rejected)
		require.Len(t, out.Windows, 2)
		assert.Equal(t, int64(412), out.Windows[0].Used)
		assert.Equal(t, int64(588), out.Windows[0].Remaining())
		assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), out.Windows[0].ResetAt)
		assert.Equal(t, time.Date(2026, 3, 10, 14, 23, 0, 0, time.UTC), out.Windows[1].ResetAt)
	})

	t.Run("minute rejected", func(t *testing.T) {
		out, err := parseReply([]interface{}{int64(2), int64(412), int64(60)}, limits, now)
		require.NoError(t, err)
		assert.False(t, out.Admitted)
		assert.Equal(t, WindowMinute, out.Rejected)
		assert.Equal(t, int64(0), out.Windows[1].Remaining())
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := parseReply("OK", limits, now)
		assert.Error(t, err)

		_, err = parseReply([]interface{}{int64(0), int64(1)}, limits, now)
		assert.Error(t, err)

		_, err = parseReply([]interface{}{int64(0), "x", int64(1)}, limits, now)
		assert.Error(t, err)

		_, err = parseReply([]interface{}{int64(5), int64(1), int64(1)}, limits, now)
		assert.Error(t, err)
	})
}

func TestRedisStore_NoLimitsAdmits(t *testing.T) {
	out, err := NewRedisStore(nil, "").ResetIfExpiredAndIncrement(context.Background(), "cred-1", nil, time.Now())
	require.NoError(t, err)
	assert.True(t, out.Admitted)
}
