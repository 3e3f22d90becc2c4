package zerolog

import (
	"github.com/rs/zerolog"

	stlog "github.com/unkn0wn-root/stampede/log"
)

var _ stlog.Logger = Logger{}

type Logger struct{ L zerolog.Logger }

func (z Logger) Debug(msg string, f stlog.Fields) { z.L.Debug().Fields(map[string]any(f)).Msg(msg) }
func (z Logger) Info(msg string, f stlog.Fields)  { z.L.Info().Fields(map[string]any(f)).Msg(msg) }
func (z Logger) Warn(msg string, f stlog.Fields)  { z.L.Warn().Fields(map[string]any(f)).Msg(msg) }
func (z Logger) Error(msg string, f stlog.Fields) { z.L.Error().Fields(map[string]any(f)).Msg(msg) }
