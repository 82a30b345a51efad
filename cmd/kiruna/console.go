package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/ewoutp/kiruna/pkg/log"
	"github.com/ewoutp/kiruna/pkg/supervisor"
)

// runConsole reads single keystrokes from stdin and maps them to daemon
// actions. Only active on a real terminal; the single goroutine here is the
// one consumer of stdin.
func runConsole(sup *supervisor.Supervisor, quit func()) {
	logger := log.Component("console")

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		logger.Error().Err(err).Msg("cannot enter raw mode")
		return
	}
	defer term.Restore(fd, oldState)

	printConsoleHelp()

	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		switch buf[0] {
		case 'r':
			logger.Info().Msg("reloading configuration")
			sup.ConfigChanged()
		case 's':
			logger.Info().Msg("stopping all services")
			sup.StopAll()
		case 'q', 3: // 3 is Ctrl-C in raw mode
			quit()
			return
		case 'h':
			printConsoleHelp()
		}
	}
}

func printConsoleHelp() {
	fmt.Print("keys: r=reload config  s=stop all services  q=quit  h=help\r\n")
}
