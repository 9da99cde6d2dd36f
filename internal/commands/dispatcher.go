package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/metrics"
	"discord-invite-tracker/internal/permissions"
	"discord-invite-tracker/internal/utils"
)

// Dispatcher runs commands behind their permission policy. It is the only
// place command failures are turned into replies.
type Dispatcher struct {
	logger *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// panicError carries a recovered command panic.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("command panicked: %v", e.value)
}

// Dispatch evaluates cmd's policy for the invoking actor and, when allowed,
// executes it once. A denial is answered with its reason; an error or panic
// is logged and answered with a generic failure message.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command, fctx framework.Context) {
	start := time.Now()
	actor := fctx.Actor()
	invocation := uuid.NewString()

	logger := d.logger.With(
		zap.String("command", cmd.Name()),
		zap.String("invocation_id", invocation),
		zap.String("user_id", actor.UserID),
		zap.String("guild_id", actor.GuildID),
	)

	res := permissions.Evaluate(actor, cmd.Permissions())
	if !res.Allowed {
		if res.Err != nil {
			logger.Error("Permission check failed", zap.Error(res.Err))
		} else {
			logger.Info("Command denied", zap.String("reason", res.Reason))
		}
		if err := fctx.ReplyEphemeral(utils.EmojiCross + " " + res.Reason); err != nil {
			logger.Warn("Failed to send denial", zap.Error(err))
		}
		metrics.RecordCommand(cmd.Name(), metrics.CommandDenied, time.Since(start))
		return
	}

	err := d.execute(cmd, fctx)
	if err == nil {
		metrics.RecordCommand(cmd.Name(), metrics.CommandOK, time.Since(start))
		logger.Debug("Command executed", zap.Duration("took", time.Since(start)))
		return
	}

	outcome := metrics.CommandError
	if pe, ok := err.(*panicError); ok {
		outcome = metrics.CommandPanic
		logger.Error("Command panicked", zap.Any("panic", pe.value), zap.Stack("stack"))
	} else {
		logger.Error("Command failed", zap.Error(err))
	}
	metrics.RecordCommand(cmd.Name(), outcome, time.Since(start))

	if ctx.Err() != nil {
		return
	}
	if err := fctx.ReplyEphemeral(utils.GenericFailure); err != nil {
		logger.Warn("Failed to send failure message", zap.Error(err))
	}
}

func (d *Dispatcher) execute(cmd Command, fctx framework.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()
	return cmd.Execute(fctx)
}
