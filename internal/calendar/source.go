// internal/calendar/source.go

// Package calendar queries the appointments system for the rows the daily
// triggers iterate over.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/common/logger"
)

// AppointmentRow is one calendar record as returned by the source. Fields
// may be missing or malformed; the trigger scheduler validates per row.
type AppointmentRow struct {
	AppointmentID string `json:"appointmentId"`
	CustomerName  string `json:"customerName"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	ServiceID     string `json:"serviceId"`
	ServiceName   string `json:"serviceName"`
	Branch        string `json:"branch"`
	Date          string `json:"date"` // YYYY-MM-DD
	Time          string `json:"time"` // HH:MM
	Status        string `json:"status"`
	Language      string `json:"language"`
}

// Source yields appointments on a reference date with a given status.
type Source interface {
	Query(ctx context.Context, referenceDate, status string) ([]AppointmentRow, error)
}

// HTTPSource queries the calendar REST API.
type HTTPSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  logger.Logger
}

func NewHTTPSource(baseURL, apiKey string, timeout time.Duration, log logger.Logger) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

func (s *HTTPSource) Query(ctx context.Context, referenceDate, status string) ([]AppointmentRow, error) {
	endpoint := fmt.Sprintf("%s/appointments?date=%s&status=%s",
		s.baseURL, url.QueryEscape(referenceDate), url.QueryEscape(status))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, stderrors.NewCalendarQueryFailedError(err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, stderrors.NewCalendarQueryFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, stderrors.NewCalendarQueryFailedError(
			fmt.Errorf("calendar returned %d: %s", resp.StatusCode, string(body)))
	}

	var payload struct {
		Appointments []AppointmentRow `json:"appointments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, stderrors.NewCalendarQueryFailedError(err)
	}

	s.logger.Debug("calendar query completed", map[string]interface{}{
		"date":   referenceDate,
		"status": status,
		"rows":   len(payload.Appointments),
	})
	return payload.Appointments, nil
}
