package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

func newTestProfiler() *BehavioralProfiler {
	return NewBehavioralProfiler(logger.NewNop())
}

func TestBehavioralProfiler_MissingCustomerID(t *testing.T) {
	b := newTestProfiler()

	assessment, err := b.Evaluate(context.Background(), &domain.Transaction{
		ID:        "tx-1",
		Amount:    100,
		Timestamp: quietAfternoon,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, assessment.Score)
	assert.Equal(t, 0.0, assessment.Confidence)
	assert.Equal(t, domain.ActionApprove, assessment.RecommendedAction)
}

func TestBehavioralProfiler_TypicalTransaction(t *testing.T) {
	b := newTestProfiler()

	// Matches the cold-start baseline: average 100, afternoon hour
	assessment, err := b.Evaluate(context.Background(), &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		Amount:     100,
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, assessment.Score)
	assert.Equal(t, 0.5, assessment.Confidence)
	assert.Empty(t, assessment.Flags)
}

func TestBehavioralProfiler_AmountDeviation(t *testing.T) {
	tests := []struct {
		name      string
		amount    float64
		wantScore float64
	}{
		// Cold-start baseline is average 100, sigma 30
		{"over 5 sigma", 400, 25},
		{"over 3 sigma", 250, 15},
		{"over 2 sigma", 170, 5},
		{"within 2 sigma", 150, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestProfiler()
			assessment, err := b.Evaluate(context.Background(), &domain.Transaction{
				ID:         "tx-1",
				CustomerID: "cust-1",
				Amount:     tt.amount,
				Timestamp:  quietAfternoon,
			}, nil)
			require.NoError(t, err)

			assert.Equal(t, tt.wantScore, assessment.Score)
			if tt.wantScore > 0 {
				assert.True(t, assessment.HasFlag("AMOUNT_DEVIATION"))
				assert.Equal(t, 0.8, assessment.Confidence)
			}
		})
	}
}

func TestBehavioralProfiler_NightWindow(t *testing.T) {
	b := newTestProfiler()

	assessment, err := b.Evaluate(context.Background(), &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		Amount:     100,
		Timestamp:  time.Date(2026, 5, 1, 4, 0, 0, 0, time.UTC),
	}, nil)
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("TIME_DEVIATION"))
	assert.Equal(t, 20.0, assessment.Score)
}

func TestBehavioralProfiler_LocationDeviation(t *testing.T) {
	b := newTestProfiler()
	ctx := context.Background()
	home := &domain.Location{Lat: 40.7, Lon: -74.0}

	// Needs three known locations before the check activates
	for i := 0; i < 3; i++ {
		_, err := b.Evaluate(ctx, &domain.Transaction{
			ID:         "tx",
			CustomerID: "cust-1",
			Amount:     100,
			Location:   home,
			Timestamp:  quietAfternoon.Add(time.Duration(i) * time.Hour),
		}, nil)
		require.NoError(t, err)
	}

	assessment, err := b.Evaluate(ctx, &domain.Transaction{
		ID:         "tx-far",
		CustomerID: "cust-1",
		Amount:     100,
		Location:   &domain.Location{Lat: 51.5, Lon: -74.0},
		Timestamp:  quietAfternoon.Add(4 * time.Hour),
	}, nil)
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("LOCATION_DEVIATION"))
	assert.Equal(t, 20.0, assessment.Score)
}

func TestBehavioralProfiler_LocationCheckNeedsHistory(t *testing.T) {
	b := newTestProfiler()

	// First-ever transaction, far from nowhere in particular
	assessment, err := b.Evaluate(context.Background(), &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		Amount:     100,
		Location:   &domain.Location{Lat: 51.5, Lon: -0.1},
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)

	assert.False(t, assessment.HasFlag("LOCATION_DEVIATION"))
}

func TestBehavioralProfiler_NewMerchant(t *testing.T) {
	b := newTestProfiler()
	ctx := context.Background()

	// Five distinct merchants establish the baseline
	merchants := []string{"grocer", "pharmacy", "bakery", "bookstore", "cafe"}
	for i, m := range merchants {
		_, err := b.Evaluate(ctx, &domain.Transaction{
			ID:         "tx",
			CustomerID: "cust-1",
			Amount:     100,
			Merchant:   m,
			Timestamp:  quietAfternoon.Add(time.Duration(i) * time.Hour),
		}, nil)
		require.NoError(t, err)
	}

	assessment, err := b.Evaluate(ctx, &domain.Transaction{
		ID:         "tx-new",
		CustomerID: "cust-1",
		Amount:     100,
		Merchant:   "jeweler",
		Timestamp:  quietAfternoon.Add(6 * time.Hour),
	}, nil)
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("NEW_MERCHANT"))
	assert.Equal(t, 5.0, assessment.Score)
}

func TestBehavioralProfiler_NewDeviceOnlyAfterSeeding(t *testing.T) {
	b := newTestProfiler()
	ctx := context.Background()

	// Without seeded devices the check is inert even for unseen device ids
	assessment, err := b.Evaluate(ctx, &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		Amount:     100,
		DeviceID:   "device-x",
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)
	assert.False(t, assessment.HasFlag("NEW_DEVICE"))

	b.SeedDevices("cust-1", []string{"device-a"})

	assessment, err = b.Evaluate(ctx, &domain.Transaction{
		ID:         "tx-2",
		CustomerID: "cust-1",
		Amount:     100,
		DeviceID:   "device-x",
		Timestamp:  quietAfternoon.Add(time.Hour),
	}, nil)
	require.NoError(t, err)
	assert.True(t, assessment.HasFlag("NEW_DEVICE"))
	assert.Equal(t, 10.0, assessment.Score)

	// Evaluation never enrolls devices: the same unseen id flags again
	assessment, err = b.Evaluate(ctx, &domain.Transaction{
		ID:         "tx-3",
		CustomerID: "cust-1",
		Amount:     100,
		DeviceID:   "device-x",
		Timestamp:  quietAfternoon.Add(2 * time.Hour),
	}, nil)
	require.NoError(t, err)
	assert.True(t, assessment.HasFlag("NEW_DEVICE"))
}

func TestBehavioralProfiler_ProfileUpdates(t *testing.T) {
	b := newTestProfiler()
	ctx := context.Background()

	_, err := b.Evaluate(ctx, &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		Amount:     250,
		Merchant:   "grocer",
		Location:   &domain.Location{Lat: 40.7, Lon: -74.0},
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)

	snapshot, ok := b.Snapshot("cust-1")
	require.True(t, ok)
	assert.Equal(t, 1, snapshot.TransactionCount)
	assert.Equal(t, 250.0, snapshot.AvgAmount)
	assert.Equal(t, 1, snapshot.KnownMerchants)
	assert.Equal(t, 1, snapshot.KnownLocations)
	assert.Equal(t, 0, snapshot.KnownDevices)

	_, err = b.Evaluate(ctx, &domain.Transaction{
		ID:         "tx-2",
		CustomerID: "cust-1",
		Amount:     50,
		Merchant:   "grocer",
		Timestamp:  quietAfternoon.Add(time.Hour),
	}, nil)
	require.NoError(t, err)

	snapshot, ok = b.Snapshot("cust-1")
	require.True(t, ok)
	assert.Equal(t, 2, snapshot.TransactionCount)
	assert.Equal(t, 150.0, snapshot.AvgAmount)
	assert.Equal(t, 1, snapshot.KnownMerchants)
}

func TestBehavioralProfiler_SnapshotUnknownCustomer(t *testing.T) {
	b := newTestProfiler()
	_, ok := b.Snapshot("nobody")
	assert.False(t, ok)
}

func TestBehavioralProfiler_CanHandle(t *testing.T) {
	b := newTestProfiler()

	assert.Equal(t, 0.6, b.CanHandle("anything", nil))
	assert.Equal(t, 0.9, b.CanHandle("anything", &domain.EvaluationContext{
		CustomerProfile: &domain.CustomerProfile{AvgTransactionAmount: 100},
	}))
}
