package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/boxvoice/internal/observe"
	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/llm"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
)

// retryPause keeps a failing device from spinning a stage loop.
const retryPause = 10 * time.Millisecond

// ─── Feed ────────────────────────────────────────────────────────────────────

// runFeed reads microphone frames, appends them to the recorder while a
// capture is active and feeds every frame, upmixed, to the front end.
func (p *Pipeline) runFeed(ctx context.Context) error {
	fe := p.c.FrontEnd
	channels := fe.FeedChannels()
	frame := make([]byte, fe.FeedChunkSize()*audio.BytesPerSample)
	var shaped []byte

	for {
		if err := p.c.Mic.Read(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.deviceError(ctx, &p.readLog, StageFeed, "read", err)
			if err := sleep(ctx, retryPause); err != nil {
				return err
			}
			continue
		}

		if _, full := p.rec.Append(frame); full {
			slog.Warn("recording buffer full, ending utterance", "stage", StageFeed, "max_audio_bytes", p.rec.Cap())
			p.post(ctx, EventSpeechEnded)
		}

		shaped = audio.Upmix(shaped, frame, channels)
		if err := fe.Feed(shaped); err != nil {
			p.deviceError(ctx, &p.feedLog, StageFeed, "feed", err)
		}
	}
}

// ─── Detect ──────────────────────────────────────────────────────────────────

// runDetect drives the front end's fetch cycle through the gate.
func (p *Pipeline) runDetect(ctx context.Context) error {
	fe := p.c.FrontEnd
	for {
		res, err := fe.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.deviceError(ctx, &p.fetchLog, StageDetect, "fetch", err)
			if err := sleep(ctx, retryPause); err != nil {
				return err
			}
			continue
		}

		before := p.gate.State()
		t := p.gate.Step(res, p.now())
		if after := p.gate.State(); after != before {
			slog.Debug("gate transition", "stage", StageDetect, "from", before, "to", after)
		}
		if t.DisableWake {
			fe.DisableWakeWord()
		}
		for _, ev := range t.Events {
			p.post(ctx, ev)
		}
		if t.EnableWake {
			fe.EnableWakeWord()
		}
	}
}

// post hands ev to the record stage.
func (p *Pipeline) post(ctx context.Context, ev GateEvent) {
	p.metrics.RecordGateEvent(ctx, ev.String())
	if p.mailbox.Post(ev) {
		p.metrics.MailboxOverwrites.Add(ctx, 1)
		slog.Debug("gate event overwrote an undelivered event", "event", ev)
	}
}

// ─── Record ──────────────────────────────────────────────────────────────────

// runRecord applies gate events to the recorder.
func (p *Pipeline) runRecord(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.mailbox.C():
			p.handleGateEvent(ctx, ev)
		}
	}
}

func (p *Pipeline) handleGateEvent(ctx context.Context, ev GateEvent) {
	log := slog.With("stage", StageRecord)
	switch ev {
	case EventWakeDetected:
		log.Info("wake word detected")

	case EventWakeTimeout:
		log.Info("wake word timed out without speech")

	case EventSpeechStarted:
		started, prev := p.rec.Begin()
		switch {
		case started && prev == RecorderCapturing:
			log.Warn("speech restarted before the previous end of speech, earlier capture dropped")
		case started:
			log.Info("speech started, recording")
		case prev == RecorderHandedOff:
			p.stats.update(func(c *Counters) { c.UtterancesRefused++ })
			p.metrics.RecordUtterance(ctx, "refused")
			log.Warn("speech ignored, previous utterance still transcribing")
		}

	case EventSpeechEnded:
		capture, ok := p.rec.Close()
		if !ok {
			return
		}
		length := p.c.Mic.Format().Duration(capture.Bytes)
		if capture.Bytes < p.limits.MinAudioBytes {
			p.rec.Discard()
			p.stats.update(func(c *Counters) { c.UtterancesTooShort++ })
			p.metrics.RecordUtterance(ctx, "too_short")
			log.Info("utterance too short, discarded", "bytes", capture.Bytes, "length", length)
			return
		}
		p.rec.HandOff()

		outcome := "accepted"
		if capture.Truncated {
			outcome = "truncated"
		}
		p.stats.update(func(c *Counters) {
			c.UtterancesAccepted++
			if capture.Truncated {
				c.UtterancesTruncated++
			}
		})
		p.metrics.RecordUtterance(ctx, outcome)
		p.metrics.UtteranceLength.Record(ctx, length.Seconds())
		log.Info("utterance ready", "bytes", capture.Bytes, "length", length, "truncated", capture.Truncated)
		p.ready.Raise()
	}
}

// ─── Transcribe ──────────────────────────────────────────────────────────────

// runTranscribe waits for handed-off recordings and transcribes them.
func (p *Pipeline) runTranscribe(ctx context.Context) error {
	for {
		if err := p.ready.Wait(ctx); err != nil {
			return err
		}
		p.transcribe(ctx)
	}
}

func (p *Pipeline) transcribe(ctx context.Context) {
	pcm := p.rec.View()
	if pcm == nil {
		return
	}

	spanCtx, span := observe.StartSpan(ctx, "pipeline.transcribe",
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.Int("audio.bytes", len(pcm))),
	)
	defer span.End()
	turn := Turn{ID: uuid.NewString(), Started: time.Now(), Span: span.SpanContext()}
	span.SetAttributes(attribute.String("turn.id", turn.ID))
	tctx := turn.Context(ctx)
	p.metrics.TurnsInFlight.Add(ctx, 1)

	start := time.Now()
	text, err := p.c.STT.Transcribe(spanCtx, stt.Request{Audio: pcm, Format: p.c.Mic.Format()})
	elapsed := time.Since(start)
	// The buffer is free for the next capture once the request returned.
	p.rec.Release()
	p.metrics.STTDuration.Record(ctx, elapsed.Seconds())
	p.stats.recordSTT(elapsed)

	if err != nil {
		if ctx.Err() != nil {
			p.metrics.TurnsInFlight.Add(ctx, -1)
			return
		}
		span.SetStatus(codes.Error, err.Error())
		reason := ReasonFailed
		if errors.Is(err, stt.ErrNoResult) {
			reason = ReasonNoResult
		}
		p.lose(tctx, turn, StageTranscribe, reason, err)
		return
	}

	p.stats.update(func(c *Counters) { c.Transcripts++ })
	observe.Logger(tctx).Info("transcribed", "stage", StageTranscribe, "text", text, "took", elapsed)

	msg := NewTextMessage(p.acct, turn, text)
	if err := p.transcriptQueue().TrySend(msg); err != nil {
		msg.Release()
		p.lose(tctx, turn, StageTranscribe, ReasonQueueFull, err)
	}
}

// ─── Chat ────────────────────────────────────────────────────────────────────

// runChat turns transcripts into replies.
func (p *Pipeline) runChat(ctx context.Context) error {
	for {
		msg, err := p.transcripts.Receive(ctx)
		if err != nil {
			return err
		}
		p.chat(ctx, msg)
	}
}

func (p *Pipeline) chat(ctx context.Context, msg *TextMessage) {
	turn := msg.Turn()
	text := msg.Text()
	msg.Release()

	tctx := turn.Context(ctx)
	spanCtx, span := observe.StartSpan(tctx, "pipeline.chat")
	defer span.End()

	start := time.Now()
	reply, err := p.c.LLM.Chat(spanCtx, llm.UserText(p.systemPrompt, text))
	elapsed := time.Since(start)
	p.metrics.LLMDuration.Record(ctx, elapsed.Seconds())
	p.stats.recordLLM(elapsed)

	if err != nil {
		if ctx.Err() != nil {
			p.metrics.TurnsInFlight.Add(ctx, -1)
			return
		}
		span.SetStatus(codes.Error, err.Error())
		reason := ReasonFailed
		if errors.Is(err, llm.ErrMalformedReply) {
			reason = ReasonNoResult
		}
		p.lose(tctx, turn, StageChat, reason, err)
		return
	}

	p.stats.update(func(c *Counters) { c.Replies++ })
	observe.Logger(tctx).Info("reply received", "stage", StageChat, "text", reply, "took", elapsed)

	out := NewTextMessage(p.acct, turn, reply)
	if err := p.replyQueue().TrySend(out); err != nil {
		out.Release()
		p.lose(tctx, turn, StageChat, ReasonQueueFull, err)
	}
}

// ─── Synthesize ──────────────────────────────────────────────────────────────

// runSynthesize streams each reply into the playback queue. The playback
// queue's capacity paces this stage to the speaker.
func (p *Pipeline) runSynthesize(ctx context.Context) error {
	for {
		msg, err := p.replies.Receive(ctx)
		if err != nil {
			return err
		}
		p.synthesize(ctx, msg)
		if err := sleep(ctx, p.limits.PlaybackSettle); err != nil {
			return err
		}
	}
}

func (p *Pipeline) synthesize(ctx context.Context, msg *TextMessage) {
	turn := msg.Turn()
	text := msg.Text()
	msg.Release()

	tctx := turn.Context(ctx)
	spanCtx, span := observe.StartSpan(tctx, "pipeline.synthesize")
	defer span.End()
	log := observe.Logger(tctx).With("stage", StageSynthesize)

	start := time.Now()
	stream, err := p.c.TTS.Synthesize(spanCtx, text)
	if err != nil {
		if ctx.Err() != nil {
			p.metrics.TurnsInFlight.Add(ctx, -1)
			return
		}
		span.SetStatus(codes.Error, err.Error())
		p.lose(tctx, turn, StageSynthesize, ReasonFailed, err)
		return
	}
	defer stream.Close()
	log.Debug("reply stream opened", "content_length", stream.ContentLength())

	chunks, total := 0, 0
	var streamErr error
	for {
		b, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if len(b) == 0 {
			break
		}
		chunk := NewAudioChunk(p.acct, turn, b)
		if err := p.playback.Send(ctx, chunk); err != nil {
			chunk.Release()
			p.metrics.TurnsInFlight.Add(ctx, -1)
			return
		}
		chunks++
		total += len(b)
	}

	elapsed := time.Since(start)
	p.metrics.TTSDuration.Record(ctx, elapsed.Seconds())
	p.stats.recordTTS(elapsed)
	span.SetAttributes(attribute.Int("audio.chunks", chunks), attribute.Int("audio.bytes", total))

	if chunks == 0 {
		span.SetStatus(codes.Error, "empty reply stream")
		reason := ReasonNoResult
		if streamErr != nil {
			reason = ReasonFailed
		}
		p.lose(tctx, turn, StageSynthesize, reason, streamErr)
		return
	}
	if streamErr != nil {
		span.RecordError(streamErr)
		log.Warn("reply stream ended early", "chunks", chunks, "err", streamErr)
	}

	turnTime := time.Since(turn.Started)
	p.metrics.TurnDuration.Record(ctx, turnTime.Seconds())
	p.metrics.TurnsInFlight.Add(ctx, -1)
	p.stats.recordTurn(turnTime)
	p.stats.update(func(c *Counters) { c.TurnsCompleted++ })
	log.Info("reply streamed", "chunks", chunks, "bytes", total, "turn_time", turnTime)
}

// ─── Playback ────────────────────────────────────────────────────────────────

// runPlayback writes audio chunks to the speaker.
func (p *Pipeline) runPlayback(ctx context.Context) error {
	for {
		chunk, err := p.playback.Receive(ctx)
		if err != nil {
			return err
		}
		n := chunk.Len()
		err = p.c.Speaker.Write(ctx, chunk.Bytes())
		chunk.Release()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.deviceError(ctx, &p.writeLog, StagePlayback, "write", err)
			continue
		}
		p.metrics.AudioChunksPlayed.Add(ctx, 1)
		p.stats.update(func(c *Counters) {
			c.ChunksPlayed++
			c.BytesPlayed += int64(n)
		})
	}
}
