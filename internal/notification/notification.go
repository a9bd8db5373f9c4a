// Package notification tells applicants about the outcome of their loan.
// Emails go out through SES; every notification is also published as an
// event on an SNS topic when one is configured.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loan-lifecycle/internal/common/config"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
)

const (
	EventLoanRejected  = "LOAN_REJECTED"
	EventLoanDisbursed = "LOAN_DISBURSED"

	rejectionSubject    = "Loan Application Declined"
	disbursementSubject = "Loan Funds Disbursed"

	dateLayout = "2006-01-02 15:04:05"
)

// Notifier delivers applicant notifications.
type Notifier interface {
	NotifyRejection(ctx context.Context, app *models.LoanApplication, reason string) error
	NotifyDisbursement(ctx context.Context, app *models.LoanApplication, transactionID string) error
}

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Event is the SNS payload.
type Event struct {
	NotificationID string  `json:"notificationId"`
	EventType      string  `json:"eventType"`
	ApplicationID  string  `json:"applicationId"`
	Status         string  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	TransactionID  string  `json:"transactionId,omitempty"`
	LoanAmount     float64 `json:"loanAmount,omitempty"`
	OccurredAt     string  `json:"occurredAt"`
}

type Service struct {
	ses    SESService
	sns    SNSService
	config config.NotificationConfig
	logger logger.Logger
	now    func() time.Time
}

// NewService wires the delivery channels. A nil client disables its channel
// regardless of config.
func NewService(sesClient SESService, snsClient SNSService, cfg config.NotificationConfig, log logger.Logger) *Service {
	return &Service{
		ses:    sesClient,
		sns:    snsClient,
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"component": "notification"}),
		now:    time.Now,
	}
}

func (s *Service) NotifyRejection(ctx context.Context, app *models.LoanApplication, reason string) error {
	body := RejectionBody(app, reason)
	if err := s.sendEmail(ctx, app, rejectionSubject, body); err != nil {
		return fmt.Errorf("send rejection email: %w", err)
	}
	return s.publish(ctx, Event{
		EventType:     EventLoanRejected,
		ApplicationID: app.ID,
		Status:        string(app.Status),
		Reason:        reason,
	})
}

// NotifyDisbursement dates the message with the record's last update, which
// the disbursement stage sets to the disbursement time.
func (s *Service) NotifyDisbursement(ctx context.Context, app *models.LoanApplication, transactionID string) error {
	at := app.LastUpdated
	if at.IsZero() {
		at = s.now()
	}
	body := DisbursementBody(app, transactionID, at)
	if err := s.sendEmail(ctx, app, disbursementSubject, body); err != nil {
		return fmt.Errorf("send disbursement email: %w", err)
	}
	ev := Event{
		EventType:     EventLoanDisbursed,
		ApplicationID: app.ID,
		Status:        string(app.Status),
		TransactionID: transactionID,
	}
	if app.LoanAmount != nil {
		ev.LoanAmount = *app.LoanAmount
	}
	return s.publish(ctx, ev)
}

// RejectionBody renders the rejection email text.
func RejectionBody(app *models.LoanApplication, reason string) string {
	return fmt.Sprintf("Dear %s,\n\n"+
		"We regret to inform you that your loan application #%s has been declined.\n\n"+
		"Reason: %s\n\n"+
		"Thank you for your interest in our services.\n\n"+
		"Best regards,\n"+
		"Loan Processing Team",
		app.ApplicantName, app.ID, reason)
}

// DisbursementBody renders the disbursement email text.
func DisbursementBody(app *models.LoanApplication, transactionID string, at time.Time) string {
	amount := "0.00"
	if app.LoanAmount != nil {
		amount = fmt.Sprintf("%.2f", *app.LoanAmount)
	}
	return fmt.Sprintf("Dear %s,\n\n"+
		"Your loan funds have been successfully disbursed.\n\n"+
		"Loan Amount: $%s\n"+
		"Transaction ID: %s\n"+
		"Date: %s\n\n"+
		"The funds should appear in your account within 1-2 business days.\n\n"+
		"Best regards,\n"+
		"Loan Processing Team",
		app.ApplicantName, amount, transactionID, at.Format(dateLayout))
}

func (s *Service) sendEmail(ctx context.Context, app *models.LoanApplication, subject, body string) error {
	if !s.config.Email.Enabled || s.ses == nil {
		s.logger.Info("email channel disabled", map[string]interface{}{
			"applicationId": app.ID,
			"subject":       subject,
		})
		return nil
	}
	if app.Email == "" {
		s.logger.Warn("applicant has no email address, skipping email", map[string]interface{}{
			"applicationId": app.ID,
		})
		return nil
	}

	_, err := s.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{app.Email},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(s.config.Email.FromEmail),
	})
	if err != nil {
		return err
	}
	s.logger.Info("email sent", map[string]interface{}{
		"applicationId": app.ID,
		"to":            app.Email,
		"subject":       subject,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, ev Event) error {
	if !s.config.SNS.Enabled || s.sns == nil {
		return nil
	}
	ev.NotificationID = uuid.NewString()
	ev.OccurredAt = s.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.EventType, err)
	}
	_, err = s.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.config.SNS.TopicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(ev.EventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", ev.EventType, err)
	}
	return nil
}
