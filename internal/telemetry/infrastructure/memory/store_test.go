package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"energy-dashboard/internal/telemetry/domain"
)

func TestReadingStoreFiltersByEquipmentAndRange(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store := NewReadingStore()
	store.Append(
		telemetry.Reading{EquipmentID: "E1", At: base.Add(-2 * time.Hour)},
		telemetry.Reading{EquipmentID: "E1", At: base.Add(-10 * time.Minute)},
		telemetry.Reading{EquipmentID: "E2", At: base.Add(-20 * time.Minute)},
		telemetry.Reading{EquipmentID: "E3", At: base.Add(-5 * time.Minute)},
	)

	got, err := store.QueryReadings(context.Background(), []string{"E1", "E2"}, base.Add(-time.Hour), base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "E2", got[0].EquipmentID)
	require.Equal(t, "E1", got[1].EquipmentID)
}

func TestReadingStoreHonorsCancelledContext(t *testing.T) {
	store := NewReadingStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.QueryReadings(ctx, []string{"E1"}, time.Now().Add(-time.Hour), time.Now())
	require.ErrorIs(t, err, context.Canceled)
}
