// ABOUTME: Newline-delimited stdio transport for the protocol dispatcher.
// ABOUTME: Reads one envelope per line, writes one response line per request.

package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/toolgate/toolgate/internal/protocol"
)

// maxLineSize caps a single request line. Lines beyond this are a protocol
// violation, not a processing concern.
const maxLineSize = 1 << 20

// Transport serves the dispatcher over a line-oriented byte stream,
// stdin/stdout in practice. Requests are handled serially in arrival order.
type Transport struct {
	dispatcher *protocol.Dispatcher
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger
}

// Config contains configuration options for the Transport.
type Config struct {
	Dispatcher *protocol.Dispatcher
	In         io.Reader
	Out        io.Writer
	Logger     *slog.Logger
}

// New creates a Transport with the given configuration.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		dispatcher: cfg.Dispatcher,
		in:         cfg.In,
		out:        cfg.Out,
		logger:     logger,
	}
}

// Run reads request lines until EOF or context cancellation. EOF is a clean
// shutdown and returns nil. Blank lines are skipped; unparseable lines
// produce an error envelope, and an oversized line is answered with a
// transport error then discarded through its newline, so the loop survives
// any single bad line.
func (t *Transport) Run(ctx context.Context) error {
	reader := bufio.NewReaderSize(t.in, 64*1024)
	writer := bufio.NewWriter(t.out)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, tooLong, readErr := readLine(reader)
		if tooLong {
			t.logger.Warn("oversized request line discarded", "limit", maxLineSize)
			resp := protocol.NewError(nil, protocol.CodeInternalTransportError,
				"request line exceeds maximum size", nil)
			if err := t.writeResponse(writer, resp); err != nil {
				return fmt.Errorf("writing transport error: %w", err)
			}
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			resp := t.dispatcher.DispatchRaw(ctx, trimmed)
			if err := t.writeResponse(writer, resp); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				t.logger.Debug("stdio transport closed on EOF")
				return nil
			}
			return fmt.Errorf("reading input: %w", readErr)
		}
	}
}

// readLine reads through the next newline. It reports tooLong when the line
// exceeded maxLineSize, in which case the remainder of the line has been
// discarded and the stream is positioned at the next line.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return append(line, chunk...), false, err
		}
		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return nil, true, discardLine(r)
		}
	}
}

// discardLine drops bytes through the next newline.
func discardLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return err
	}
}

func (t *Transport) writeResponse(w *bufio.Writer, resp *protocol.Response) error {
	data, err := resp.Encode()
	if err != nil {
		// Result failed to serialize. The correlation id still has to be
		// answered, so degrade to a transport error envelope.
		t.logger.Error("failed to encode response", "error", err)
		resp = protocol.NewError(resp.ID, protocol.CodeInternalTransportError,
			"response serialization failed", nil)
		data, err = resp.Encode()
		if err != nil {
			return err
		}
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
