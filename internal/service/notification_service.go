package service

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nmarchetti/studio-api/internal/models"
	"github.com/nmarchetti/studio-api/pkg/jobs"
	"github.com/nmarchetti/studio-api/pkg/mail"
)

const jobTypeBalanceChange = "balance_change_email"

// balanceChangePayload is the queued snapshot of one balance change. The
// email renders from this copy, never from re-reading the student, so a
// later mutation cannot change what an already queued email says.
type balanceChangePayload struct {
	StudentName  string
	StudentEmail string
	Language     string
	CreditType   models.CreditType
	ChangeAmount int
	NewBalance   int
	TotalCredits int
	Description  string
}

// NotificationService renders and delivers student-facing email. Balance
// change mail goes through an in-memory queue so a slow or failing provider
// never blocks the mutation path; the weekly digest is sent inline by the
// scheduler task that owns its pacing.
type NotificationService struct {
	sender      mail.Sender
	queue       *jobs.Queue
	defaultLang string
	itemDelay   time.Duration
	logger      *zap.Logger
}

// NewNotificationService constructs the service and its delivery queue.
func NewNotificationService(sender mail.Sender, defaultLang string, itemDelay time.Duration, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultLang == "" {
		defaultLang = "pt"
	}
	s := &NotificationService{
		sender:      sender,
		defaultLang: defaultLang,
		itemDelay:   itemDelay,
		logger:      logger,
	}
	s.queue = jobs.NewQueue("notifications", s.handleJob, jobs.QueueConfig{
		Workers:    1,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// QueueBalanceChange enqueues the post-commit email for one ledger entry.
// The snapshot carries the combined total across all three pools as it stood
// right after the mutation. The caller treats a failure here as a warning;
// the mutation is already committed.
func (s *NotificationService) QueueBalanceChange(student models.Student, entry models.LedgerEntry, snapshot models.CreditSnapshot) error {
	if student.Email == "" {
		return fmt.Errorf("student %s has no email address", student.ID)
	}
	return s.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: jobTypeBalanceChange,
		Payload: balanceChangePayload{
			StudentName:  student.Name,
			StudentEmail: student.Email,
			Language:     student.Language,
			CreditType:   entry.CreditType,
			ChangeAmount: entry.ChangeAmount,
			NewBalance:   entry.NewBalance,
			TotalCredits: snapshot.TotalCredits,
			Description:  entry.Description,
		},
	})
}

func (s *NotificationService) handleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(balanceChangePayload)
	if !ok {
		s.logger.Sugar().Errorw("unexpected job payload", "type", job.Type, "job_id", job.ID)
		return nil
	}
	msg, err := s.renderBalanceChange(payload)
	if err != nil {
		s.logger.Sugar().Errorw("balance change render failed", "job_id", job.ID, "error", err)
		return nil
	}
	return s.sender.Send(ctx, *msg)
}

func (s *NotificationService) renderBalanceChange(payload balanceChangePayload) (*mail.Message, error) {
	variant := balanceChangeTemplates.forLanguage(payload.Language, s.defaultLang)
	body, err := variant.render(payload)
	if err != nil {
		return nil, err
	}
	return &mail.Message{
		To:      []mail.Address{{Name: payload.StudentName, Email: payload.StudentEmail}},
		Subject: variant.subject,
		Text:    body,
	}, nil
}

// DigestFailure records one student the digest could not reach.
type DigestFailure struct {
	StudentID string `json:"student_id"`
	Email     string `json:"email"`
	Error     string `json:"error"`
}

// DigestReport summarises one digest run.
type DigestReport struct {
	Candidates int             `json:"candidates"`
	Sent       int             `json:"sent"`
	Failures   []DigestFailure `json:"failures,omitempty"`
}

// SendLowCreditDigest emails each listed student a renewal reminder in
// their language. Sends run one at a time with a delay between them to
// stay inside provider rate limits; one failed address never stops the
// rest of the run.
func (s *NotificationService) SendLowCreditDigest(ctx context.Context, students []models.LowCreditStudent) *DigestReport {
	report := &DigestReport{Candidates: len(students)}
	for i, student := range students {
		if i > 0 && s.itemDelay > 0 {
			select {
			case <-ctx.Done():
				return report
			case <-time.After(s.itemDelay):
			}
		}
		if err := s.sendLowCreditReminder(ctx, student); err != nil {
			s.logger.Sugar().Warnw("digest send failed",
				"student_id", student.StudentID, "email", student.Email, "error", err)
			report.Failures = append(report.Failures, DigestFailure{
				StudentID: student.StudentID,
				Email:     student.Email,
				Error:     err.Error(),
			})
			continue
		}
		report.Sent++
	}
	return report
}

func (s *NotificationService) sendLowCreditReminder(ctx context.Context, student models.LowCreditStudent) error {
	if student.Email == "" {
		return fmt.Errorf("no email address")
	}
	variant := lowCreditTemplates.forLanguage(student.Language, s.defaultLang)
	body, err := variant.render(student)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, mail.Message{
		To:      []mail.Address{{Name: student.Name, Email: student.Email}},
		Subject: variant.subject,
		Text:    body,
	})
}

// templateVariant is one language rendition of a message.
type templateVariant struct {
	subject string
	body    *template.Template
}

func (v templateVariant) render(data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := v.body.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// templateSet holds per-language variants of one message.
type templateSet map[string]templateVariant

// forLanguage picks the variant for the student's language, falling back to
// the configured default and then to Portuguese.
func (t templateSet) forLanguage(lang, fallback string) templateVariant {
	if variant, ok := t[lang]; ok {
		return variant
	}
	if variant, ok := t[fallback]; ok {
		return variant
	}
	return t["pt"]
}

var balanceChangeTemplates = templateSet{
	"pt": {
		subject: "Atualização de créditos",
		body: template.Must(template.New("balance_pt").Parse(
			`Olá {{.StudentName}},

Seu saldo de créditos foi atualizado.

Tipo: {{.CreditType}}
Alteração: {{.ChangeAmount}}
Novo saldo: {{.NewBalance}}
Total em todas as modalidades: {{.TotalCredits}}
Motivo: {{.Description}}

Qualquer dúvida, fale com a recepção.
`)),
	},
	"en": {
		subject: "Credit balance update",
		body: template.Must(template.New("balance_en").Parse(
			`Hi {{.StudentName}},

Your credit balance was updated.

Pool: {{.CreditType}}
Change: {{.ChangeAmount}}
New balance: {{.NewBalance}}
Combined total: {{.TotalCredits}}
Reason: {{.Description}}

Questions? Talk to the front desk.
`)),
	},
}

var lowCreditTemplates = templateSet{
	"pt": {
		subject: "Seus créditos estão acabando",
		body: template.Must(template.New("low_pt").Parse(
			`Olá {{.Name}},

Seus créditos estão quase no fim. Saldo atual:

Individual: {{.IndividualCredits}}
Dupla: {{.DuoCredits}}
Grupo: {{.GroupCredits}}
Total: {{.TotalCredits}}

Fale com a recepção para renovar seu pacote.
`)),
	},
	"en": {
		subject: "Your credits are running low",
		body: template.Must(template.New("low_en").Parse(
			`Hi {{.Name}},

Your credits are almost gone. Current balance:

Individual: {{.IndividualCredits}}
Duo: {{.DuoCredits}}
Group: {{.GroupCredits}}
Total: {{.TotalCredits}}

Talk to the front desk to renew your package.
`)),
	},
}
