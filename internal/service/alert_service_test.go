package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmarchetti/studio-api/internal/models"
)

type stubLowCreditLister struct {
	calls    []int
	students map[int][]models.LowCreditStudent
}

func (s *stubLowCreditLister) ListLowCredit(_ context.Context, threshold int) ([]models.LowCreditStudent, error) {
	s.calls = append(s.calls, threshold)
	return s.students[threshold], nil
}

func TestAlertServiceLowIncludesThresholdBoundary(t *testing.T) {
	lister := &stubLowCreditLister{students: map[int][]models.LowCreditStudent{
		2: {
			{StudentID: "s1", Name: "Ana", IndividualCredits: 1, TotalCredits: 1},
			{StudentID: "s2", Name: "Bruno", TotalCredits: 2},
		},
	}}
	svc := NewAlertService(lister, nil, 2, nil)

	students, err := svc.LowCredits(context.Background())
	require.NoError(t, err)
	assert.Len(t, students, 2)
	assert.Equal(t, []int{2}, lister.calls)
}

func TestAlertServiceZeroUsesZeroThreshold(t *testing.T) {
	lister := &stubLowCreditLister{students: map[int][]models.LowCreditStudent{
		0: {{StudentID: "s3", Name: "Carla", IndividualCredits: -2, TotalCredits: -2}},
	}}
	svc := NewAlertService(lister, nil, 2, nil)

	students, err := svc.ZeroCredits(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, -2, students[0].TotalCredits)
	assert.Equal(t, []int{0}, lister.calls)
}
