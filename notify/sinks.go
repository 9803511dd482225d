package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LogSink writes alerts to the application log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, a Alert) error {
	fields := []zap.Field{zap.String("kind", string(a.Kind)), zap.String("subject", a.Subject())}
	switch a.Kind {
	case KindLowStock:
		if a.Product != nil {
			fields = append(fields,
				zap.String("product", a.Product.Name),
				zap.Int("stock_quantity", a.Product.StockQuantity),
			)
		}
	case KindLowStockBatch:
		fields = append(fields, zap.Int("products", len(a.Products)))
	case KindDailyReport:
		if a.Report != nil {
			fields = append(fields,
				zap.String("date", a.Report.Date),
				zap.Int("total_items_added", a.Report.TotalItemsAdded),
				zap.Int("unique_products", a.Report.UniqueProducts),
			)
		}
	}
	s.logger.Info("Alert raised", fields...)
	return nil
}

var ErrMailNotConfigured = errors.New("SMTP not configured")

type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       string
}

func (c MailConfig) Configured() bool {
	return c.Host != "" && c.Port != "" && c.From != "" && c.To != ""
}

// MailSink emails alerts in plain text to the operator address.
type MailSink struct {
	cfg  MailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailSink(cfg MailConfig) *MailSink {
	return &MailSink{cfg: cfg, send: smtp.SendMail}
}

func (s *MailSink) Name() string { return "mail" }

func (s *MailSink) Send(_ context.Context, a Alert) error {
	if !s.cfg.Configured() {
		return ErrMailNotConfigured
	}

	var auth smtp.Auth
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := s.cfg.Host + ":" + s.cfg.Port
	return s.send(addr, auth, s.cfg.From, []string{s.cfg.To}, s.message(a))
}

func (s *MailSink) message(a Alert) []byte {
	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n",
		s.cfg.From, s.cfg.To, a.Subject())
	body := strings.ReplaceAll(a.Body(), "\n", "\r\n")
	return []byte(headers + body)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes alerts as JSON, keyed by alert kind.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		MaxAttempts:  5,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Sugar().Errorf("kafka alert writer: "+msg, args...)
		}),
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, a Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.Kind),
		Value: value,
		Time:  a.RaisedAt,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
