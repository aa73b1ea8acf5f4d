package native

import (
	"context"
	"fmt"
	"time"

	"github.com/copilotz/copilotz/pkg/tools"
)

// maxWaitMs bounds a single wait call so a bad argument cannot park a
// thread worker for hours.
const maxWaitMs = 5 * 60 * 1000

type getCurrentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as Europe/Lisbon; defaults to UTC"`
}

func newGetCurrentTime() *tools.Tool {
	return &tools.Tool{
		Key:         "get_current_time",
		Description: "Get the current date and time, optionally in a specific IANA timezone.",
		InputSchema: mustSchema[getCurrentTimeArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			a, err := decodeArgs[getCurrentTimeArgs](args)
			if err != nil {
				return nil, err
			}
			loc := time.UTC
			if a.Timezone != "" {
				loc, err = time.LoadLocation(a.Timezone)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q: %w", a.Timezone, err)
				}
			}
			now := time.Now().In(loc)
			return map[string]any{
				"iso":      now.Format(time.RFC3339),
				"unixMs":   now.UnixMilli(),
				"timezone": loc.String(),
				"weekday":  now.Weekday().String(),
			}, nil
		},
	}
}

type waitArgs struct {
	DurationMs int `json:"durationMs" jsonschema:"required,description=How long to wait in milliseconds,minimum=0,maximum=300000"`
}

func newWait() *tools.Tool {
	return &tools.Tool{
		Key:         "wait",
		Description: "Pause execution for a given number of milliseconds before continuing.",
		InputSchema: mustSchema[waitArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			a, err := decodeArgs[waitArgs](args)
			if err != nil {
				return nil, err
			}
			if a.DurationMs < 0 {
				return nil, fmt.Errorf("durationMs must be non-negative, got %d", a.DurationMs)
			}
			ms := a.DurationMs
			if ms > maxWaitMs {
				ms = maxWaitMs
			}
			timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
			return map[string]any{"waitedMs": ms}, nil
		},
	}
}

func newVerbalPause() *tools.Tool {
	return &tools.Tool{
		Key:         "verbal_pause",
		Description: "Deliberately stay silent and yield the turn; the conversation resumes on the next incoming message.",
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			return map[string]any{"status": "paused"}, nil
		},
		SuppressFollowUp: true,
	}
}
