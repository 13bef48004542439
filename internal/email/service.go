// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) appName() string {
	if s.config.FromName != "" {
		return s.config.FromName
	}
	return "Aurelia Jewelry"
}

// SendHTMLEmail sends a multipart email with a plain-text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-storefront"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

// OrderLine is a preformatted order row.
type OrderLine struct {
	Name      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

type OrderData struct {
	AppName      string
	CustomerName string
	OrderNumber  string
	Items        []OrderLine
	Subtotal     string
	Shipping     string
	Total        string
	OrderURL     string
}

type ShippingData struct {
	AppName        string
	CustomerName   string
	OrderNumber    string
	TrackingNumber string
	OrderURL       string
}

type NewsletterData struct {
	AppName        string
	ShopURL        string
	UnsubscribeURL string
}

// SendVerificationEmail sends an email verification email
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	return s.sendTemplate(to, "Verify your "+s.appName()+" account", "verification.html", VerificationData{
		AppName:         s.appName(),
		UserName:        userName,
		VerificationURL: verificationURL,
	})
}

// SendPasswordResetEmail sends a password reset email
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	return s.sendTemplate(to, "Reset your "+s.appName()+" password", "password_reset.html", PasswordResetData{
		AppName:  s.appName(),
		UserName: userName,
		ResetURL: resetURL,
	})
}

func (s *Service) SendOrderConfirmation(to string, data OrderData) error {
	data.AppName = s.appName()
	return s.sendTemplate(to, "Your order "+data.OrderNumber+" is confirmed", "order_confirmation.html", data)
}

func (s *Service) SendShippingUpdate(to string, data ShippingData) error {
	data.AppName = s.appName()
	return s.sendTemplate(to, "Your order "+data.OrderNumber+" has shipped", "shipping_update.html", data)
}

func (s *Service) SendNewsletterWelcome(to string, data NewsletterData) error {
	data.AppName = s.appName()
	return s.sendTemplate(to, "Welcome to the "+s.appName()+" newsletter", "newsletter_welcome.html", data)
}

func (s *Service) sendTemplate(to, subject, name string, data any) error {
	html, err := renderTemplate(name, data)
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
