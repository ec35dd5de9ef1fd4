package escpos

import "github.com/rs/zerolog"

// LogSink writes one log entry per command.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) LogSink {
	return LogSink{logger: logger}
}

func (s LogSink) Emit(ev Event) {
	var entry *zerolog.Event
	switch {
	case ev.Kind == KindUnknown:
		entry = s.logger.Warn()
	case ev.Kind == KindIgnored:
		entry = s.logger.Debug()
	case ev.Image != nil && ev.Image.Err != nil:
		entry = s.logger.Error().Err(ev.Image.Err)
	default:
		entry = s.logger.Info()
	}
	entry = entry.Str("kind", string(ev.Kind))
	if ev.Kind != KindBuzzer {
		entry = entry.Str("opcode", ev.Opcode.String())
	}
	if ev.Text != "" {
		entry = entry.Str("text", ev.Text)
	}
	if len(ev.Payload) > 0 {
		entry = entry.Hex("payload", ev.Payload)
	}
	if img := ev.Image; img != nil {
		entry = entry.
			Int("width", img.Width).
			Int("height", img.Height).
			Int64("bytes", img.Bytes).
			Uint8("mode", img.Mode)
		if img.Path != "" {
			entry = entry.Str("path", img.Path)
		}
	}
	entry.Msg(ev.Message)
}
