package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"
)

const (
	notificationQueueSize = 256
	notificationTimeout   = 10 * time.Second
)

// ErrDispatcherClosed is returned when a notification is queued after Close.
var ErrDispatcherClosed = errors.New("notification dispatcher closed")

// Notification is one outbound plain-text message.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers a single notification.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// SecurityNotifier sends security notices to account owners. Delivery is
// best-effort; callers never see a failure.
type SecurityNotifier interface {
	AccountLocked(ctx context.Context, user *models.User, until time.Time)
	AccountUnlocked(ctx context.Context, user *models.User)
	RefreshTokenReuse(ctx context.Context, user *models.User, ipAddress string)
}

// SESClient is the subset of the SES API used for delivery
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends notifications using AWS SES
type SESNotifier struct {
	client      SESClient
	fromAddress string
}

// NewSESNotifier creates an SES notifier using the default AWS credential chain.
func NewSESNotifier(ctx context.Context, region, fromAddress string) (*SESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SESNotifier{client: ses.NewFromConfig(cfg), fromAddress: fromAddress}, nil
}

func (n *SESNotifier) Send(ctx context.Context, msg Notification) error {
	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body)},
			},
		},
	}
	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// SMTPNotifier sends notifications through an SMTP relay
type SMTPNotifier struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPNotifier(host string, port int, user, password, from string) *SMTPNotifier {
	return &SMTPNotifier{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
	}
}

func (n *SMTPNotifier) Send(_ context.Context, msg Notification) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogNotifier records notifications in the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

func (n *LogNotifier) Send(_ context.Context, msg Notification) error {
	n.logger.Info("notification suppressed",
		slog.String("to", pkglogger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject))
	return nil
}

// NewNotifier selects the delivery backend from configuration.
func NewNotifier(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (Notifier, error) {
	switch cfg.Provider {
	case "ses":
		return NewSESNotifier(ctx, cfg.AWSRegion, cfg.FromAddress)
	case "smtp":
		return NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.FromAddress), nil
	default:
		return &LogNotifier{logger: logger}, nil
	}
}

// NotificationDispatcher delivers notifications on a background worker at a
// bounded rate. Queue overflow and delivery errors are logged and dropped.
type NotificationDispatcher struct {
	notifier Notifier
	limiter  *rate.Limiter
	queue    chan Notification
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewNotificationDispatcher starts the delivery worker. perSecond <= 0
// disables throttling.
func NewNotificationDispatcher(notifier Notifier, perSecond float64, logger *slog.Logger) *NotificationDispatcher {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	d := &NotificationDispatcher{
		notifier: notifier,
		limiter:  rate.NewLimiter(limit, 1),
		queue:    make(chan Notification, notificationQueueSize),
		logger:   logger,
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue schedules delivery without blocking.
func (d *NotificationDispatcher) Enqueue(n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- n:
		return nil
	default:
		d.logger.Warn("notification queue full, dropping message", slog.String("subject", n.Subject))
		return nil
	}
}

// Close stops accepting messages and waits for the queue to drain or ctx to end.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		close(d.done)
		return ctx.Err()
	}
}

func (d *NotificationDispatcher) run() {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for n := range d.queue {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		d.deliver(ctx, n)
	}
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, notificationTimeout)
	defer cancel()

	if err := d.notifier.Send(sendCtx, n); err != nil {
		d.logger.Error("failed to deliver notification",
			slog.String("to", pkglogger.SanitizedEmail(n.To)),
			slog.String("subject", n.Subject),
			slog.Any("error", err))
	}
}

func (d *NotificationDispatcher) AccountLocked(_ context.Context, user *models.User, until time.Time) {
	d.send(Notification{
		To:      user.Email,
		Subject: "Your account has been temporarily locked",
		Body: fmt.Sprintf("We locked your account after several failed sign-in attempts.\n\n"+
			"You can try again after %s.\n\n"+
			"If these attempts were not made by you, change your password once you regain access.\n",
			until.UTC().Format(time.RFC1123)),
	})
}

func (d *NotificationDispatcher) AccountUnlocked(_ context.Context, user *models.User) {
	d.send(Notification{
		To:      user.Email,
		Subject: "Your account has been unlocked",
		Body:    "An administrator unlocked your account. You can sign in again.\n",
	})
}

func (d *NotificationDispatcher) RefreshTokenReuse(_ context.Context, user *models.User, ipAddress string) {
	d.send(Notification{
		To:      user.Email,
		Subject: "Security alert: signed out of a device",
		Body: fmt.Sprintf("A previously used sign-in token was presented again from %s.\n\n"+
			"We signed that device out as a precaution. If this was not you, change your password.\n",
			pkglogger.MaskIP(ipAddress)),
	})
}

func (d *NotificationDispatcher) send(n Notification) {
	if err := d.Enqueue(n); err != nil {
		d.logger.Warn("notification not queued", slog.String("subject", n.Subject), slog.Any("error", err))
	}
}
