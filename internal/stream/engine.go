package stream

import (
	"context"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tmaxmax/go-sse"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/translate"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

const sseDoneMessage = "[DONE]"

// Writer is the downstream sink. Flush must push the written line to the
// client so deltas arrive as they are produced.
type Writer interface {
	io.Writer
	Flush()
}

type frameResult struct {
	data string
	err  error
}

// Engine drives one upstream SSE stream into one downstream NDJSON stream.
type Engine struct {
	Model       string
	Chat        bool
	MaxBuffer   int
	Recovery    bool
	IdleTimeout time.Duration
}

// Run consumes the upstream body until it ends, the client disconnects, or a
// protocol failure occurs. Exactly one done:true line is written unless the
// client went away first.
func (e *Engine) Run(ctx context.Context, body io.ReadCloser, w Writer) error {
	start := time.Now()

	frames := make(chan frameResult, 1)
	go func() {
		defer close(frames)
		if e.Recovery {
			readRecovering(body, e.MaxBuffer, frames)
		} else {
			readStrict(body, e.MaxBuffer, frames)
		}
	}()

	// Whatever path ends the stream, the reader must not stay parked on a
	// send. Closing the body fails its next read; draining until the channel
	// closes releases a send already in flight.
	defer func() {
		body.Close()
		for range frames {
		}
	}()

	state := &deltaState{}
	var chunkCount uint64
	var recoveryBuffer string

	emit := func(obj map[string]any) bool {
		line, err := json.Marshal(obj)
		if err != nil {
			log.Errorf("chunk serialization failed: %v", err)
			return true
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return false
		}
		w.Flush()
		return true
	}

	emitDelta := func(content string, toolCalls []any) bool {
		if content == "" && len(toolCalls) == 0 {
			return true
		}
		chunkCount++
		return emit(chunk(e.Model, content, e.Chat, false, toolCalls))
	}

	var idleC <-chan time.Time
	var idleTimer *time.Timer
	if e.IdleTimeout > 0 {
		idleTimer = time.NewTimer(e.IdleTimeout)
		idleC = idleTimer.C
		defer idleTimer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			// Client disconnected. Nothing more can be delivered, so stop
			// without writing a terminal line.
			log.Debugf("client disconnected, stopping stream for %s", e.Model)
			return nil

		case <-idleC:
			emit(errorChunk(e.Model, "Stream timeout", e.Chat, time.Since(start), chunkCount, state))
			return proxyerr.Protocol("Stream timeout")

		case r, ok := <-frames:
			if idleTimer != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(e.IdleTimeout)
			}

			if !ok {
				// Upstream EOF without [DONE]. Salvage anything held back,
				// then close the stream with whatever we know.
				if e.Recovery && recoveryBuffer != "" {
					if frame, ok := recoverJSON(recoveryBuffer); ok {
						content, toolCalls := state.processFrame(frame)
						if !emitDelta(content, toolCalls) {
							return nil
						}
					}
				}
				reason := "error"
				if state.sawTerminal() {
					reason = translate.DoneReason(state.finishReason)
				}
				emit(finalChunk(e.Model, e.Chat, reason, time.Since(start), chunkCount, state))
				return nil
			}

			if r.err != nil {
				perr := proxyerr.Protocol("stream read failed: %v", r.err)
				emit(errorChunk(e.Model, perr.Message, e.Chat, time.Since(start), chunkCount, state))
				return perr
			}

			if r.data == "" {
				continue
			}
			if r.data == sseDoneMessage {
				emit(finalChunk(e.Model, e.Chat, translate.DoneReason(state.finishReason), time.Since(start), chunkCount, state))
				return nil
			}

			var frame map[string]any
			if err := json.Unmarshal([]byte(r.data), &frame); err != nil {
				if !e.Recovery {
					perr := proxyerr.Protocol("malformed stream frame: %v", err)
					emit(errorChunk(e.Model, perr.Message, e.Chat, time.Since(start), chunkCount, state))
					return perr
				}
				recovered, ok := recoverJSON(r.data)
				if !ok {
					recoveryBuffer += r.data + "\n\n"
					continue
				}
				frame = recovered
			}

			content, toolCalls := state.processFrame(frame)
			if !emitDelta(content, toolCalls) {
				return nil
			}
		}
	}
}

// readStrict parses well-formed SSE with a hard cap on event size. Oversized
// events surface as read errors, which Run reports as protocol failures.
func readStrict(body io.Reader, maxBuffer int, out chan<- frameResult) {
	readCfg := &sse.ReadConfig{MaxEventSize: maxBuffer}
	for ev, err := range sse.Read(body, readCfg) {
		if err != nil {
			out <- frameResult{err: err}
			return
		}
		out <- frameResult{data: ev.Data}
	}
}
