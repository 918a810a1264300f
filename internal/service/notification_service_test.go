package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmarchetti/studio-api/internal/models"
	"github.com/nmarchetti/studio-api/pkg/mail"
)

type flakySender struct {
	failFor map[string]bool
	sent    []mail.Message
}

func (s *flakySender) Send(_ context.Context, msg mail.Message) error {
	if len(msg.To) > 0 && s.failFor[msg.To[0].Email] {
		return errors.New("mailbox unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestNotificationRenderBalanceChangeUsesStudentLanguage(t *testing.T) {
	svc := NewNotificationService(mail.NewConsoleSender(nil), "pt", 0, nil)

	msg, err := svc.renderBalanceChange(balanceChangePayload{
		StudentName:  "Ana",
		StudentEmail: "ana@example.com",
		Language:     "en",
		CreditType:   models.CreditGroup,
		ChangeAmount: -1,
		NewBalance:   4,
		TotalCredits: 7,
		Description:  "check-in",
	})
	require.NoError(t, err)
	assert.Equal(t, "Credit balance update", msg.Subject)
	assert.Contains(t, msg.Text, "New balance: 4")
	assert.Contains(t, msg.Text, "Combined total: 7")
	require.Len(t, msg.To, 1)
	assert.Equal(t, "ana@example.com", msg.To[0].Email)
}

func TestNotificationRenderFallsBackToDefaultLanguage(t *testing.T) {
	svc := NewNotificationService(mail.NewConsoleSender(nil), "pt", 0, nil)

	msg, err := svc.renderBalanceChange(balanceChangePayload{
		StudentName:  "Yuki",
		StudentEmail: "yuki@example.com",
		Language:     "ja",
		CreditType:   models.CreditIndividual,
		ChangeAmount: 10,
		NewBalance:   10,
		TotalCredits: 12,
		Description:  "package purchase",
	})
	require.NoError(t, err)
	assert.Equal(t, "Atualização de créditos", msg.Subject)
	assert.Contains(t, msg.Text, "Novo saldo: 10")
	assert.Contains(t, msg.Text, "Total em todas as modalidades: 12")
}

func TestNotificationQueueRequiresEmail(t *testing.T) {
	svc := NewNotificationService(mail.NewConsoleSender(nil), "pt", 0, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	err := svc.QueueBalanceChange(models.Student{ID: testStudentID, Name: "Ana"}, models.LedgerEntry{}, models.CreditSnapshot{})
	require.Error(t, err)
}

func TestNotificationDigestContinuesPastFailures(t *testing.T) {
	sender := &flakySender{failFor: map[string]bool{"bruno@example.com": true}}
	svc := NewNotificationService(sender, "pt", 0, nil)

	report := svc.SendLowCreditDigest(context.Background(), []models.LowCreditStudent{
		{StudentID: "s1", Name: "Ana", Email: "ana@example.com", Language: "pt", TotalCredits: 1},
		{StudentID: "s2", Name: "Bruno", Email: "bruno@example.com", Language: "pt", TotalCredits: 0},
		{StudentID: "s3", Name: "Carla", Email: "carla@example.com", Language: "en", TotalCredits: 2},
	})

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 2, report.Sent)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "s2", report.Failures[0].StudentID)

	require.Len(t, sender.sent, 2)
	assert.True(t, strings.Contains(sender.sent[0].Text, "Total: 1"))
	assert.Equal(t, "Your credits are running low", sender.sent[1].Subject)
}

func TestNotificationDigestSkipsStudentsWithoutEmail(t *testing.T) {
	sender := &flakySender{}
	svc := NewNotificationService(sender, "pt", 0, nil)

	report := svc.SendLowCreditDigest(context.Background(), []models.LowCreditStudent{
		{StudentID: "s1", Name: "Ana", TotalCredits: 0},
	})
	assert.Equal(t, 0, report.Sent)
	require.Len(t, report.Failures, 1)
	assert.Empty(t, sender.sent)
}
