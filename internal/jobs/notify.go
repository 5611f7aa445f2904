package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/indexops/recalc/internal/task"
)

// BatchMailer mails operators a summary when a batch reaches a terminal
// state. Send failures are logged only; notification is best-effort and must
// never touch the batch outcome.
type BatchMailer struct {
	fromName    string
	fromAddress string
	apiKey      string
	recipients  []string
}

func NewBatchMailer(fromName, fromAddress, apiKey string, recipients []string) *BatchMailer {
	return &BatchMailer{
		fromName:    fromName,
		fromAddress: fromAddress,
		apiKey:      apiKey,
		recipients:  recipients,
	}
}

func (m *BatchMailer) BatchCompleted(_ context.Context, t *task.Task) {
	if len(m.recipients) == 0 {
		return
	}

	subject := fmt.Sprintf("Batch %s %s", t.ID, t.Status)
	body := batchSummaryBody(t)

	from := mail.NewEmail(m.fromName, m.fromAddress)
	client := sendgrid.NewSendClient(m.apiKey)

	for _, recipient := range m.recipients {
		email := mail.NewSingleEmail(from, subject, mail.NewEmail("", recipient), body, body)
		response, err := client.Send(email)
		if err != nil {
			log.Printf("Failed to send batch notification to %s: %v", recipient, err)
			continue
		}
		if response.StatusCode >= 400 {
			log.Printf("Failed to send batch notification to %s: sendgrid status %d", recipient, response.StatusCode)
		}
	}
}

func batchSummaryBody(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s finished with status %s.\n", t.ID, t.Status)
	fmt.Fprintf(&b, "Message: %s\n", t.Message)
	if t.DurationSeconds > 0 {
		fmt.Fprintf(&b, "Duration: %.1fs\n", t.DurationSeconds)
	}
	return b.String()
}
