package log

import (
	"bufio"
	"io"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
)

// AttachContainer copies a container's multiplexed stdout/stderr stream into
// the global sink, one log record per line. The stream is the raw docker logs
// payload; stdcopy demultiplexes it. Blocks until the stream ends, so callers
// run it in its own goroutine.
func AttachContainer(service, container string, stream io.ReadCloser) {
	defer stream.Close()

	logger := Container(service, container)

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	go copyLines(outR, logger, zerolog.InfoLevel)
	go copyLines(errR, logger, zerolog.WarnLevel)

	_, err := stdcopy.StdCopy(outW, errW, stream)
	outW.CloseWithError(err)
	errW.CloseWithError(err)
}

func copyLines(r io.Reader, logger zerolog.Logger, level zerolog.Level) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		logger.WithLevel(level).Msg(scanner.Text())
	}
}
