package observability

import (
	"io"

	"github.com/danmuck/drawctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime log policy and installs an app-scoped
// global logger writing to out. relayctl passes stderr: stdout carries MCP.
func InitLogger(app string, out io.Writer) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := logging.NewLogger(app, out)
	log.Logger = logger
	return logger
}
