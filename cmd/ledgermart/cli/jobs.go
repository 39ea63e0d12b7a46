package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledgermart/jobs"
)

// Enqueuer submits prepared tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error)
}

// JobsCLI enqueues ledger tasks for the worker.
type JobsCLI struct {
	client Enqueuer
}

// NewJobsCLI wraps an Enqueuer.
func NewJobsCLI(client Enqueuer) *JobsCLI {
	return &JobsCLI{client: client}
}

// EnqueueOptions names the task and its date arguments. Empty dates let the
// worker pick its defaults.
type EnqueueOptions struct {
	Task string
	Date string
	From string
	To   string
	Output
}

// BuildTask prepares the asynq task for a short task name.
func BuildTask(opts EnqueueOptions) (*asynq.Task, error) {
	switch opts.Task {
	case "daily-close", jobs.TaskDailyClose:
		return jobs.NewDailyCloseTask(opts.Date)
	case "period", jobs.TaskPeriod:
		return jobs.NewPeriodTask(opts.From, opts.To)
	case "report", jobs.TaskReport:
		return jobs.NewReportTask(opts.Date)
	case "verify", jobs.TaskVerify:
		return jobs.NewVerifyTask(opts.From, opts.To)
	default:
		return nil, fmt.Errorf("unsupported task %q", opts.Task)
	}
}

// EnqueueCommand submits one task and prints its id.
func (c *JobsCLI) EnqueueCommand(ctx context.Context, opts EnqueueOptions) int {
	opts.defaults()
	if c == nil || c.client == nil {
		return opts.fail("enqueue", errors.New("client not configured"))
	}
	task, err := BuildTask(opts)
	if err != nil {
		return opts.fail("enqueue", err)
	}
	info, err := c.client.Enqueue(ctx, task)
	if err != nil {
		return opts.fail("enqueue", err)
	}
	if opts.JSONOutput {
		if err := opts.writeJSON(map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue}); err != nil {
			return opts.fail("enqueue", err)
		}
		return ExitOK
	}
	fmt.Fprintf(opts.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return ExitOK
}
