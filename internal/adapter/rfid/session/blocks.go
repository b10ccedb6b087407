package session

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/internal/protocol"
	"github.com/marmos91/rfidgate/internal/telemetry"
)

// Exchange outcomes, as reported to metrics and traces.
const (
	OutcomeSuccess    = "success"
	OutcomeFailed     = "failed"
	OutcomeTimeout    = "timeout"
	OutcomeUnexpected = "unexpected"
	OutcomeTransport  = "transport"
)

// ReadBlock asks the device for the contents of a tag block.
//
// ok is false when the block could not be read: the device answered with
// anything other than READ_SUCCESS|DATA:<value>, or nothing arrived within
// the response timeout. err is non-nil only for transport-fatal errors
// (wrapping ErrClosed), in which case ok is false as well.
func (s *Session) ReadBlock(ctx context.Context, block int) (data string, ok bool, err error) {
	ctx, span := telemetry.StartBlockSpan(ctx, telemetry.SpanReadBlock, block)
	defer span.End()

	outcome := OutcomeSuccess
	defer func() {
		span.SetAttributes(telemetry.Outcome(outcome))
		s.recordExchange("read", block, outcome)
	}()

	if err := s.WriteLine(protocol.ReadBlock(block)); err != nil {
		outcome = OutcomeTransport
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}

	line, err := s.awaitResponse()
	if err != nil {
		if errors.Is(err, errTimeout) {
			outcome = OutcomeTimeout
			logger.WarnCtx(ctx, "Timed out waiting for block read", logger.Block(block))
			return "", false, nil
		}
		outcome = OutcomeTransport
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}

	data, ok = protocol.ParseReadSuccess(line)
	if !ok {
		outcome = OutcomeUnexpected
		logger.WarnCtx(ctx, "Failed to read block", logger.Block(block), logger.KeyResponse, line)
		return "", false, nil
	}

	logger.DebugCtx(ctx, "Block read", logger.Block(block), logger.KeyData, data)
	return data, true, nil
}

// WriteBlock writes data to a tag block, retrying until the device answers
// exactly WRITE_SUCCESS or the attempts are exhausted.
//
// WRITE_FAILED, a timeout and any other response are all retried alike, with
// RetryDelay between attempts and none after the last. Only a transport-fatal
// error stops early; it is returned wrapping ErrClosed.
func (s *Session) WriteBlock(ctx context.Context, block int, data string) (bool, error) {
	ctx, span := telemetry.StartBlockSpan(ctx, telemetry.SpanWriteBlock, block)
	defer span.End()

	attempts := s.cfg.WriteAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome, response, err := s.writeOnce(block, data)
		s.recordExchange("write", block, outcome)

		if err != nil {
			span.SetAttributes(telemetry.Outcome(outcome), telemetry.Attempts(attempt))
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
		if outcome == OutcomeSuccess {
			span.SetAttributes(telemetry.Outcome(outcome), telemetry.Attempts(attempt))
			logger.DebugCtx(ctx, "Block written",
				logger.Block(block), logger.KeyData, data, logger.Attempt(attempt))
			return true, nil
		}

		logger.WarnCtx(ctx, "Block write attempt failed",
			logger.Block(block),
			logger.Attempt(attempt),
			logger.Attempts(attempts),
			logger.KeyStatus, outcome,
			logger.KeyResponse, response)

		if attempt < attempts {
			telemetry.AddEvent(ctx, telemetry.EventWriteRetry, telemetry.Attempts(attempt))
			s.sleep(s.cfg.RetryDelay)
		}
	}

	span.SetAttributes(telemetry.Outcome(OutcomeFailed), telemetry.Attempts(attempts))
	span.SetStatus(codes.Error, "write attempts exhausted")
	if s.metrics != nil {
		s.metrics.RecordWriteExhausted(block)
	}
	logger.ErrorCtx(ctx, "Failed to write block",
		logger.Block(block), logger.KeyData, data, logger.Attempts(attempts))
	return false, nil
}

func (s *Session) writeOnce(block int, data string) (outcome, response string, err error) {
	if err := s.WriteLine(protocol.WriteBlock(block, data)); err != nil {
		return OutcomeTransport, "", err
	}

	line, err := s.awaitResponse()
	switch {
	case errors.Is(err, errTimeout):
		return OutcomeTimeout, "", nil
	case err != nil:
		return OutcomeTransport, "", err
	case protocol.IsWriteSuccess(line):
		return OutcomeSuccess, line, nil
	case line == protocol.CmdWriteFailed:
		return OutcomeFailed, line, nil
	default:
		return OutcomeUnexpected, line, nil
	}
}

func (s *Session) recordExchange(op string, block int, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordBlockExchange(op, block, outcome)
	}
}
