package silero

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-voice/core/vad/silero"

var logger = otelslog.NewLogger(scopeName)
