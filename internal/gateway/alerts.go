package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "CRITICAL"
	AlertSeverityWarning  AlertSeverity = "WARNING"
	AlertSeverityInfo     AlertSeverity = "INFO"
)

// AlertCategory represents the category of an alert
type AlertCategory string

const (
	AlertCategoryOrderPlacement AlertCategory = "ORDER_PLACEMENT"
	AlertCategoryOrderCancel    AlertCategory = "ORDER_CANCEL"
	AlertCategoryOrderQuery     AlertCategory = "ORDER_QUERY"
	AlertCategoryBalance        AlertCategory = "BALANCE"
	AlertCategoryExchange       AlertCategory = "EXCHANGE"
	AlertCategoryRateLimit      AlertCategory = "RATE_LIMIT"
	AlertCategoryNetwork        AlertCategory = "NETWORK"
)

// Alert represents a gateway failure with structured data
type Alert struct {
	Severity  AlertSeverity          `json:"severity"`
	Category  AlertCategory          `json:"category"`
	Message   string                 `json:"message"`
	Error     error                  `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// AlertManager turns alerts into structured log records
type AlertManager struct {
	logger zerolog.Logger
}

// NewAlertManager creates a new alert manager
func NewAlertManager() *AlertManager {
	return &AlertManager{logger: log.With().Str("component", "gateway_alerts").Logger()}
}

// SendAlert logs an alert at a level matching its severity
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) {
	if am == nil {
		return
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	logEvent := am.logger.With().
		Str("severity", string(alert.Severity)).
		Str("category", string(alert.Category)).
		Time("timestamp", alert.Timestamp)

	for key, value := range alert.Context {
		logEvent = logEvent.Interface(key, value)
	}
	if alert.Error != nil {
		logEvent = logEvent.Err(alert.Error)
	}

	logger := logEvent.Logger()

	switch alert.Severity {
	case AlertSeverityCritical:
		logger.Error().Msg(alert.Message)
	case AlertSeverityWarning:
		logger.Warn().Msg(alert.Message)
	case AlertSeverityInfo:
		logger.Info().Msg(alert.Message)
	default:
		logger.Error().Msg(alert.Message)
	}
}

// alertFor builds the alert matching a failed gateway operation
func alertFor(op string, err error, fields map[string]interface{}) Alert {
	category := AlertCategoryExchange
	message := "Gateway call failed"
	switch op {
	case OpCreateOrder:
		category, message = AlertCategoryOrderPlacement, "Failed to place order"
	case OpCancelOrder:
		category, message = AlertCategoryOrderCancel, "Failed to cancel order"
	case OpFetchOrder, OpFetchOpenOrders:
		category, message = AlertCategoryOrderQuery, "Failed to query order status"
	case OpGetBalance, OpGetWalletBalance, OpFetchPositions:
		category, message = AlertCategoryBalance, "Failed to query balance"
	}

	severity := AlertSeverityCritical
	switch {
	case errors.Is(err, ErrRateLimited):
		severity, category = AlertSeverityWarning, AlertCategoryRateLimit
	case errors.Is(err, ErrNetwork):
		severity, category = AlertSeverityWarning, AlertCategoryNetwork
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrUnsupportedParameters):
		severity = AlertSeverityWarning
	case errors.Is(err, ErrCanceled):
		severity = AlertSeverityInfo
	}

	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["operation"] = op

	return Alert{
		Severity: severity,
		Category: category,
		Message:  message,
		Error:    err,
		Context:  fields,
	}
}
