package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundTracker/internal/model"
)

func point(i int) model.HistoryPoint {
	return model.HistoryPoint{
		Time:   fmt.Sprintf("%02d:%02d", 9+i/60, i%60),
		Value:  fmt.Sprintf("1.%04d", i),
		Change: "0.10",
	}
}

func TestAppend_KeepsMostRecentFifty(t *testing.T) {
	var seq []model.HistoryPoint
	for i := 0; i < 60; i++ {
		seq = Append(seq, point(i), DefaultLimit)
	}
	require.Len(t, seq, 50)
	assert.Equal(t, point(10), seq[0])
	assert.Equal(t, point(59), seq[49])
}

func TestAppend_SameMinuteReplacesInPlace(t *testing.T) {
	seq := []model.HistoryPoint{point(0), point(1), point(2)}
	updated := model.HistoryPoint{Time: point(1).Time, Value: "2.0000", Change: "-0.50"}

	got := Append(seq, updated, DefaultLimit)
	require.Len(t, got, 3)
	assert.Equal(t, updated, got[1])
	assert.Equal(t, point(1), seq[1], "input must not be modified")
}

func TestAppend_ReplaceAtCapacityDoesNotEvict(t *testing.T) {
	var seq []model.HistoryPoint
	for i := 0; i < 50; i++ {
		seq = Append(seq, point(i), DefaultLimit)
	}
	oldest := seq[0]
	seq = Append(seq, model.HistoryPoint{Time: point(25).Time, Value: "9.9999", Change: "9.99"}, DefaultLimit)
	require.Len(t, seq, 50)
	assert.Equal(t, oldest, seq[0])
	assert.Equal(t, "9.9999", seq[25].Value)
}

func TestAppend_Unbounded(t *testing.T) {
	var seq []model.HistoryPoint
	for i := 0; i < 70; i++ {
		seq = Append(seq, point(i), 0)
	}
	assert.Len(t, seq, 70)
}

func TestBuffer_AllIsRestartable(t *testing.T) {
	b := NewBuffer(3, point(0), point(1), point(2), point(3))
	assert.Equal(t, 3, b.Len())

	var first, second []string
	for p := range b.All() {
		first = append(first, p.Time)
	}
	for p := range b.All() {
		second = append(second, p.Time)
	}
	assert.Equal(t, []string{"09:01", "09:02", "09:03"}, first)
	assert.Equal(t, first, second)

	pts := b.Points()
	pts[0].Value = "mutated"
	assert.NotEqual(t, "mutated", b.Points()[0].Value)
}
