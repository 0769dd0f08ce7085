package stream

import (
	"context"
	"io"
)

// Passthrough relays a raw upstream stream to the client unchanged, flushing
// after every read so SSE frames are not held back by buffering.
func Passthrough(ctx context.Context, body io.ReadCloser, w Writer) error {
	defer body.Close()

	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return nil
			}
			w.Flush()
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
