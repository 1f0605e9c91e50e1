package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunResult_AddEnforcesOrder(t *testing.T) {
	r := NewRunResult("baseline", 1)
	require.NotEmpty(t, r.ID)

	require.NoError(t, r.Add(EpochRecord{Epoch: 1, Elapsed: time.Second}))
	assert.ErrorIs(t, r.Add(EpochRecord{Epoch: 3, Elapsed: 2 * time.Second}), ErrEpochOrder)
	assert.ErrorIs(t, r.Add(EpochRecord{Epoch: 2, Elapsed: time.Millisecond}), ErrElapsedOrder)
	require.NoError(t, r.Add(EpochRecord{Epoch: 2, Elapsed: time.Second}))
	assert.Len(t, r.Epochs, 2)
}

func TestRunResult_EpochSeconds(t *testing.T) {
	r := NewRunResult("x", 1)
	require.NoError(t, r.Add(EpochRecord{Epoch: 1, Elapsed: 2 * time.Second}))
	require.NoError(t, r.Add(EpochRecord{Epoch: 2, Elapsed: 5 * time.Second}))
	assert.Equal(t, []float64{2, 3}, r.EpochSeconds())
}

func TestFingerprint(t *testing.T) {
	a := []EpochRecord{{Epoch: 1, TrainLoss: 1.5, TrainAcc: 40, ValidLoss: 1.6, ValidAcc: 38, Elapsed: time.Second}}
	b := []EpochRecord{{Epoch: 1, TrainLoss: 1.5, TrainAcc: 40, ValidLoss: 1.6, ValidAcc: 38, Elapsed: time.Hour}}
	c := []EpochRecord{{Epoch: 1, TrainLoss: 1.5000000000000002, TrainAcc: 40, ValidLoss: 1.6, ValidAcc: 38}}

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "elapsed time must not affect the fingerprint")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c), "one ulp must change the fingerprint")
}

func TestRunResult_Series(t *testing.T) {
	r := NewRunResult("x", 1)
	require.NoError(t, r.Add(EpochRecord{Epoch: 1, TrainLoss: 2, ValidAcc: 10}))
	require.NoError(t, r.Add(EpochRecord{Epoch: 2, TrainLoss: 1, ValidAcc: 20}))
	assert.Equal(t, []float64{2, 1}, r.Series("train_loss"))
	assert.Equal(t, []float64{10, 20}, r.Series("valid_acc"))

	r.Seal(3 * time.Second)
	assert.Equal(t, Fingerprint(r.Epochs), r.Fingerprint)
}
