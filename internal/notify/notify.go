// Package notify は会員申込の受付確認を利用者に通知する。
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/hitoshi/templeman/internal/model"
)

// defaultFromName は送信元の表示名。
const defaultFromName = "Temple Membership"

// Sender はメール送信APIを抽象化する。*sendgrid.Client が実装する。
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// MailNotifier はSendGrid経由で申込受付メールを送信する。
type MailNotifier struct {
	sender Sender
	from   *mail.Email
	logger *slog.Logger
}

// NewMailNotifier はSendGridのAPIキーからMailNotifierを生成する。
func NewMailNotifier(apiKey, fromAddress string, logger *slog.Logger) *MailNotifier {
	return NewMailNotifierWithSender(sendgrid.NewSendClient(apiKey), fromAddress, logger)
}

// NewMailNotifierWithSender は任意のSenderを使うMailNotifierを生成する。
func NewMailNotifierWithSender(sender Sender, fromAddress string, logger *slog.Logger) *MailNotifier {
	return &MailNotifier{
		sender: sender,
		from:   mail.NewEmail(defaultFromName, fromAddress),
		logger: logger,
	}
}

// ApplicationSubmitted は申込受付の確認メールを送信する。
// 宛先のメールアドレスがない場合は何もしない。
func (n *MailNotifier) ApplicationSubmitted(ctx context.Context, to model.Identity, app model.Application, plan model.Plan) error {
	if to.Email == "" {
		return nil
	}

	subject, plain, body := applicationMessage(app, plan)
	msg := mail.NewSingleEmail(n.from, subject, mail.NewEmail("", to.Email), plain, body)

	resp, err := n.sender.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send application confirmation: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", resp.StatusCode, resp.Body)
	}

	n.logger.Info("application confirmation sent",
		slog.String("user_id", to.ID),
		slog.String("application_id", app.ID),
	)
	return nil
}

// LogNotifier はメール送信が設定されていない環境で、通知内容をログに残す。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// ApplicationSubmitted は通知の代わりにログを出力する。
func (n *LogNotifier) ApplicationSubmitted(_ context.Context, to model.Identity, app model.Application, plan model.Plan) error {
	n.logger.Info("application confirmation skipped (mail not configured)",
		slog.String("user_id", to.ID),
		slog.String("application_id", app.ID),
		slog.String("membership_type", plan.Type),
	)
	return nil
}

// applicationMessage は申込受付メールの件名と本文を組み立てる。
func applicationMessage(app model.Application, plan model.Plan) (subject, plain, body string) {
	subject = fmt.Sprintf("We received your %s application", plan.Name)

	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for applying for %s.\n\n", plan.Name)
	fmt.Fprintf(&b, "Amount: ₹%d\n", app.Amount)
	fmt.Fprintf(&b, "Payment reference: %s\n", app.PaymentReference)
	fmt.Fprintf(&b, "Status: %s\n\n", app.Status)
	b.WriteString("Our team will review your application and update its status.\n")
	plain = b.String()

	body = fmt.Sprintf(
		`<p>Thank you for applying for <strong>%s</strong>.</p>`+
			`<ul><li>Amount: ₹%d</li><li>Payment reference: %s</li><li>Status: %s</li></ul>`+
			`<p>Our team will review your application and update its status.</p>`,
		html.EscapeString(plan.Name), app.Amount, html.EscapeString(app.PaymentReference), html.EscapeString(string(app.Status)),
	)
	return subject, plain, body
}
