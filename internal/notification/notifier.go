// Package notification delivers signal alerts to external channels (log,
// Telegram, webhooks).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/pondem87/kraken/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel    `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Signal  *model.Signal `json:"signal,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// SignalNotifier turns signals into alerts and sends them to every
// backend. It is a driver signal sink.
type SignalNotifier struct {
	backends []Notifier
	minConf  float64
}

// NewSignalNotifier creates a sink over the given backends. Signals with a
// confidence below minConfidence are not sent.
func NewSignalNotifier(minConfidence float64, backends ...Notifier) *SignalNotifier {
	return &SignalNotifier{backends: backends, minConf: minConfidence}
}

// OnSignal sends one alert per backend. Every backend is tried; failures
// are joined.
func (s *SignalNotifier) OnSignal(ctx context.Context, sig model.Signal) error {
	if sig.Confidence < s.minConf {
		return nil
	}
	alert := SignalAlert(sig)
	var errs []error
	for _, b := range s.backends {
		if err := b.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalAlert formats a signal as an alert.
func SignalAlert(sig model.Signal) Alert {
	level := AlertInfo
	if sig.Confidence >= 0.8 {
		level = AlertWarning
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s @ %.5g\n", strings.ToUpper(string(sig.Direction)), sig.Symbol, sig.Entry)
	fmt.Fprintf(&b, "SL %.5g  TP %.5g  RR %.2f\n", sig.Stop, sig.Target, sig.RewardRatio())
	fmt.Fprintf(&b, "%s %s, confidence %.2f", sig.TF, sig.TS.UTC().Format("2006-01-02 15:04"), sig.Confidence)
	if sig.Rationale != "" {
		b.WriteString("\n")
		b.WriteString(sig.Rationale)
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s signal", sig.Strategy, sig.Symbol),
		Message: b.String(),
		Signal:  &sig,
	}
}
