package recovery

import (
	"testing"
	"time"

	"recovery_bot/internal/recovery/models"

	"github.com/stretchr/testify/require"
)

func TestClassifierDefaultBoundaries(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})

	cases := []struct {
		name string
		age  time.Duration
		tier models.PriorityTier
		skip bool
	}{
		{"fresh message", 10 * time.Minute, models.TierUrgent, false},
		{"just under tier1 boundary", 114 * time.Minute, models.TierUrgent, false},
		{"exactly tier1 boundary", 2 * time.Hour, models.TierUrgent, false},
		{"just over tier1 boundary", 2*time.Hour + 6*time.Minute, models.TierRecent, false},
		{"mid tier2", 8 * time.Hour, models.TierRecent, false},
		{"just under max age", 11*time.Hour + 54*time.Minute, models.TierRecent, false},
		{"exactly max age", 12 * time.Hour, models.TierRecent, false},
		{"just over max age", 12*time.Hour + 6*time.Minute, 0, true},
		{"ancient", 72 * time.Hour, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := c.Classify(tc.age)
			require.Equal(t, tc.skip, result.Skip)
			if tc.skip {
				require.NotEmpty(t, result.Reason)
				return
			}
			require.Equal(t, tc.tier, result.Tier)
		})
	}
}

func TestClassifierTier3Split(t *testing.T) {
	c := NewClassifier(ClassifierConfig{Tier3Boundary: 6 * time.Hour})

	require.Equal(t, models.TierUrgent, c.Classify(time.Hour).Tier)
	require.Equal(t, models.TierRecent, c.Classify(4*time.Hour).Tier)
	require.Equal(t, models.TierStale, c.Classify(8*time.Hour).Tier)
	require.True(t, c.Classify(13*time.Hour).Skip)
}

func TestClassifierPacing(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})

	require.Equal(t, 500*time.Millisecond, c.Pacing(models.TierUrgent))
	require.Equal(t, 2*time.Second, c.Pacing(models.TierRecent))
	require.Equal(t, 5*time.Second, c.Pacing(models.TierStale))

	// 未知档位回落到二档节奏
	require.Equal(t, 2*time.Second, c.Pacing(models.PriorityTier(9)))
}

func TestClassifierCustomBoundaries(t *testing.T) {
	c := NewClassifier(ClassifierConfig{
		Tier1Boundary: time.Hour,
		MaxAge:        6 * time.Hour,
	})

	require.Equal(t, models.TierUrgent, c.Classify(30*time.Minute).Tier)
	require.Equal(t, models.TierRecent, c.Classify(90*time.Minute).Tier)
	require.True(t, c.Classify(7*time.Hour).Skip)
	require.Equal(t, 6*time.Hour, c.MaxAge())
}
