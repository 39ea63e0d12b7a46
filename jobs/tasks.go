package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskDailyClose computes turnover and balances for one day, yesterday by default.
	TaskDailyClose = "ledger:daily_close"
	// TaskPeriod recomputes an inclusive date range.
	TaskPeriod = "ledger:period"
	// TaskReport rebuilds the regulatory report for the month before as_of.
	TaskReport = "ledger:report"
	// TaskVerify replays the balance chain and reports drift.
	TaskVerify = "ledger:verify"
)

var payloadValidator = validator.New()

// DailyClosePayload selects the day to close. Empty means yesterday.
type DailyClosePayload struct {
	Date string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// RangePayload bounds period and verify runs.
type RangePayload struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

// ReportPayload selects the report date. Empty means today.
type ReportPayload struct {
	AsOf string `json:"as_of,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// NewDailyCloseTask builds a daily close task.
func NewDailyCloseTask(date string) (*asynq.Task, error) {
	return newTask(TaskDailyClose, DailyClosePayload{Date: date})
}

// NewPeriodTask builds a period task.
func NewPeriodTask(from, to string) (*asynq.Task, error) {
	return newTask(TaskPeriod, RangePayload{From: from, To: to})
}

// NewReportTask builds a report task.
func NewReportTask(asOf string) (*asynq.Task, error) {
	return newTask(TaskReport, ReportPayload{AsOf: asOf})
}

// NewVerifyTask builds a verify task.
func NewVerifyTask(from, to string) (*asynq.Task, error) {
	return newTask(TaskVerify, RangePayload{From: from, To: to})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	if err := payloadValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("jobs: %s payload: %w", typ, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

func decodePayload(task *asynq.Task, target any) error {
	if err := json.Unmarshal(task.Payload(), target); err != nil {
		return err
	}
	return payloadValidator.Struct(target)
}
