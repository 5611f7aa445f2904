package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/indexops/recalc/internal/job"
)

// EmailJob distributes finished review reports by mail.
type EmailJob struct {
	fromName    string
	fromAddress string
	apiKey      string
}

func NewEmailJob(fromName, fromAddress, apiKey string) *EmailJob {
	return &EmailJob{
		fromName:    fromName,
		fromAddress: fromAddress,
		apiKey:      apiKey,
	}
}

func (j *EmailJob) Execute(_ context.Context, params map[string]any, report job.ProgressFunc) (map[string]any, error) {
	to, ok := params["to"].(string)
	if !ok {
		return nil, errors.New("missing 'to' field")
	}

	subject, ok := params["subject"].(string)
	if !ok {
		return nil, errors.New("missing 'subject' field")
	}

	body, ok := params["body"].(string)
	if !ok {
		return nil, errors.New("missing 'body' field")
	}

	report(10, fmt.Sprintf("Sending email to %s...", to))

	from := mail.NewEmail(j.fromName, j.fromAddress)
	toEmail := mail.NewEmail("", to)
	email := mail.NewSingleEmail(from, subject, toEmail, body, body)
	client := sendgrid.NewSendClient(j.apiKey)
	response, err := client.Send(email)
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return nil, fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	log.Printf("Email sent to %s (status: %d)", to, response.StatusCode)
	return map[string]any{"status_code": response.StatusCode}, nil
}
