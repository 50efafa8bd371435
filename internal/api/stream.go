package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/sse"
)

// Update is one item of a processing stream. Exactly one of the fields is
// set. A stream carries any number of Progress updates followed by one
// Result or Err, after which the channel is closed.
type Update struct {
	Progress *domain.ProgressEvent
	Result   *domain.ProcessingResult
	Err      error
}

// Stream starts page processing and returns its ordered updates. The
// request and the response body share ctx; cancelling ctx closes the
// connection and the channel.
func (c *Client) Stream(ctx context.Context, req domain.ProcessRequest) <-chan Update {
	out := make(chan Update, 16)
	go func() {
		defer close(out)
		c.runStream(ctx, req, func(u Update) bool {
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out
}

// ProcessPageStream runs Stream and folds it into callbacks: onProgress for
// each progress event in stream order, onError once with the user-facing
// message on failure. It returns when the stream settles.
func (c *Client) ProcessPageStream(ctx context.Context, req domain.ProcessRequest, onProgress func(domain.ProgressEvent), onError func(string)) (*domain.ProcessingResult, error) {
	fail := func(err error) (*domain.ProcessingResult, error) {
		if onError != nil {
			onError(domain.UserMessage(err))
		}
		return nil, err
	}

	for u := range c.Stream(ctx, req) {
		switch {
		case u.Progress != nil:
			if onProgress != nil {
				onProgress(*u.Progress)
			}
		case u.Result != nil:
			return u.Result, nil
		case u.Err != nil:
			return fail(u.Err)
		}
	}
	return fail(domain.TransportError("Processing cancelled", context.Cause(ctx)))
}

func (c *Client) runStream(parent context.Context, preq domain.ProcessRequest, emit func(Update) bool) {
	const startFailed = "Failed to start processing"

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	body, err := json.Marshal(preq)
	if err != nil {
		emit(Update{Err: domain.ValidationError("Failed to encode request", err)})
		return
	}

	req, ctx, err := c.newRequest(ctx, http.MethodPost, "/process-page-stream", bytes.NewReader(body))
	if err != nil {
		emit(Update{Err: domain.TransportError(startFailed, err)})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	logger := c.logger.WithContext(ctx).With().
		Str("file_id", preq.FileID).
		Int("page", preq.PageNumber).
		Str("model_type", string(preq.ModelType)).
		Logger()

	// The idle timer also covers the wait for response headers.
	idle := time.AfterFunc(c.idleTimeout, func() { cancel(domain.ErrIdleTimeout) })
	defer idle.Stop()

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		emit(Update{Err: c.classifyReadError(ctx, parent, err, startFailed)})
		return
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		emit(Update{Err: errorFromResponse(resp, errorMessages{
			unparsed: startFailed,
			generic:  startFailed,
		})})
		return
	}
	logger.Debug().Bool("include_raw_detections", preq.IncludeRawDetections).Msg("processing stream opened")

	parser := sse.NewStreamParser(resp.Body, sse.WithMaxBufferSize(c.maxBuffer), sse.WithLogger(logger))
	parser.OnChunk(func(int) { idle.Reset(c.idleTimeout) })

	for {
		evt, err := parser.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Warn().Int("residual_bytes", parser.Residual()).Msg("stream ended without a terminal event")
				emit(Update{Err: domain.LivenessError("Processing stream ended unexpectedly", domain.ErrStreamEnded)})
				return
			}
			emit(Update{Err: c.classifyReadError(ctx, parent, err, "Connection lost while processing")})
			return
		}

		switch evt.Type {
		case sse.EventProgress:
			var p domain.ProgressEvent
			if err := json.Unmarshal(evt.Data, &p); err != nil {
				logger.Warn().Err(err).Msg("dropping malformed progress event")
				continue
			}
			if !emit(Update{Progress: &p}) {
				return
			}

		case sse.EventResult:
			var result domain.ProcessingResult
			if err := json.Unmarshal(evt.Data, &result); err != nil {
				emit(Update{Err: domain.ProtocolError("Malformed processing result", err)})
				return
			}
			logger.Info().Dur("elapsed", time.Since(started)).Msg("processing complete")
			emit(Update{Result: &result})
			return

		case sse.EventError:
			msg := errorEventMessage(evt.Data)
			logger.Warn().Str("error", msg).Msg("server reported processing error")
			emit(Update{Err: domain.ServerError(msg, nil)})
			return

		case sse.EventDone:
			// Informational; settlement comes from result or error.

		default:
			logger.Debug().Str("event", evt.Type).Msg("ignoring unknown event")
		}
	}
}

// classifyReadError distinguishes idle timeouts, caller cancellation,
// buffer overflow and plain transport failures.
func (c *Client) classifyReadError(ctx, parent context.Context, err error, transportMsg string) error {
	if errors.Is(context.Cause(ctx), domain.ErrIdleTimeout) {
		return domain.LivenessError("Processing timed out waiting for the server", domain.ErrIdleTimeout)
	}
	if parent.Err() != nil {
		return domain.TransportError("Processing cancelled", context.Cause(parent))
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return de
	}
	return domain.TransportError(transportMsg, err)
}

func errorEventMessage(data json.RawMessage) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	_ = json.Unmarshal(data, &payload)
	switch {
	case payload.Error != "":
		return payload.Error
	case payload.Message != "":
		return payload.Message
	case payload.Detail != "":
		return payload.Detail
	}
	return "Processing failed"
}
