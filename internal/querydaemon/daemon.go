package querydaemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"

	"github.com/marcua/ayb/common/logging"
)

// Serve runs the daemon's main loop: read one newline-delimited JSON
// request from r, execute it against engine, write one newline-delimited
// JSON response to w, flush, and repeat until EOF. Malformed input
// produces an error response and the loop continues; EOF terminates the
// daemon cleanly (spec.md §4.3).
func Serve(logger logging.Logger, engine *Engine, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) == 0 && errors.Is(err, io.EOF) {
			return nil
		}

		var resp *Response

		var req Request

		if unmarshalErr := json.Unmarshal(line, &req); unmarshalErr != nil {
			resp = &Response{Error: "malformed request: " + unmarshalErr.Error()}
		} else {
			result, respErr := engine.Run(req.Query, req.QueryMode)
			if respErr != nil {
				resp = &Response{Error: respErr.Error()}
			} else {
				resp = result
			}
		}

		if writeErr := writeResponse(writer, resp); writeErr != nil {
			return writeErr
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			logger.Error("error reading daemon request", "error", err)
			return err
		}
	}
}

func writeResponse(w *bufio.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(&Response{Error: "failed to serialize response: " + err.Error()})
	}

	if _, err := w.Write(data); err != nil {
		return err
	}

	if err := w.WriteByte('\n'); err != nil {
		return err
	}

	return w.Flush()
}
