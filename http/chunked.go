package http

import (
	"bufio"
	"bytes"
	"io"
)

type chunkState uint8

const (
	awaitingChunkSize chunkState = iota
	inChunk
	chunkFinished
)

// ChunkedDecoder strips chunked transfer coding (RFC 7230 4.1) from a byte
// stream. Chunk extensions are ignored and trailer fields are read and
// discarded so the stream is positioned at the next request afterwards.
//
// Errors are sticky. An end of stream inside a chunk is reported as
// io.ErrUnexpectedEOF; other read errors from the source are returned as is.
type ChunkedDecoder struct {
	r     *bufio.Reader
	state chunkState
	size  int64
	pos   int64
	err   error

	// TrailerLimit bounds the bytes spent on trailer fields.
	TrailerLimit int
}

func NewChunkedDecoder(r io.Reader) *ChunkedDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, DefaultBufferSize)
	}
	return &ChunkedDecoder{
		r:            br,
		TrailerLimit: MaxHeaderSize,
	}
}

// Finished reports whether the terminal chunk has been read.
func (d *ChunkedDecoder) Finished() bool {
	return d.state == chunkFinished
}

func (d *ChunkedDecoder) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}

	for {
		switch d.state {
		case chunkFinished:
			return 0, io.EOF

		case awaitingChunkSize:
			size, err := d.readChunkSize()
			if err != nil {
				return 0, d.fail(err)
			}
			if size == 0 {
				if err := d.skipTrailers(); err != nil {
					return 0, d.fail(err)
				}
				d.state = chunkFinished
				return 0, io.EOF
			}
			d.size, d.pos = size, 0
			d.state = inChunk

		case inChunk:
			if len(p) == 0 {
				return 0, nil
			}
			if remaining := d.size - d.pos; int64(len(p)) > remaining {
				p = p[:remaining]
			}

			n, err := d.r.Read(p)
			d.pos += int64(n)
			if err != nil {
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return n, d.fail(err)
			}

			if d.pos == d.size {
				if err := d.readCRLF(); err != nil {
					return n, d.fail(err)
				}
				d.size, d.pos = 0, 0
				d.state = awaitingChunkSize
			}
			return n, nil
		}
	}
}

func (d *ChunkedDecoder) fail(err error) error {
	d.err = err
	return err
}

func (d *ChunkedDecoder) readChunkSize() (int64, error) {
	line, _, err := readLine(d.r, maxChunkSizeLineBytes, ErrInvalidChunkSize)
	if err != nil {
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}

	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	return parseHex(bytes.TrimSpace(line))
}

func (d *ChunkedDecoder) readCRLF() error {
	b, err := d.r.Peek(2)
	if err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if b[0] != '\r' || b[1] != '\n' {
		return ErrMalformedChunk
	}
	_, err = d.r.Discard(2)
	return err
}

func (d *ChunkedDecoder) skipTrailers() error {
	used := 0
	for {
		line, n, err := readLine(d.r, d.TrailerLimit-used, ErrHeaderTooLarge)
		used += n
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if len(line) == 0 {
			return nil
		}
	}
}

// ChunkedEncoder frames every Write as one chunk. An empty Write emits the
// terminal chunk; after that empty writes are no-ops and anything else
// fails with ErrEncoderFinished.
type ChunkedEncoder struct {
	w        io.Writer
	finished bool
	head     [18]byte
}

func NewChunkedEncoder(w io.Writer) *ChunkedEncoder {
	return &ChunkedEncoder{w: w}
}

var (
	crlf          = []byte("\r\n")
	terminalChunk = []byte("0\r\n\r\n")
)

func (e *ChunkedEncoder) Write(p []byte) (int, error) {
	if e.finished {
		if len(p) == 0 {
			return 0, nil
		}
		// io.Writer forbids n < len(p) with a nil error.
		return 0, ErrEncoderFinished
	}

	if len(p) == 0 {
		e.finished = true
		_, err := e.w.Write(terminalChunk)
		return 0, err
	}

	n := writeHexToBuffer(len(p), e.head[:])
	e.head[n] = '\r'
	e.head[n+1] = '\n'
	if _, err := e.w.Write(e.head[:n+2]); err != nil {
		return 0, err
	}
	if _, err := e.w.Write(p); err != nil {
		return 0, err
	}
	if _, err := e.w.Write(crlf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close writes the terminal chunk if it has not been written yet. It does
// not close the underlying writer.
func (e *ChunkedEncoder) Close() error {
	if e.finished {
		return nil
	}
	_, err := e.Write(nil)
	return err
}

// Flush flushes the underlying writer when it buffers.
func (e *ChunkedEncoder) Flush() error {
	if f, ok := e.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (e *ChunkedEncoder) Finished() bool {
	return e.finished
}
