package http

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkedRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	enc := NewChunkedEncoder(&wire)

	for _, part := range []string{"Wiki", "pedia", " in\r\n\r\nchunks.", ""} {
		n, err := enc.Write([]byte(part))
		require.NoError(t, err)
		assert.Equal(t, len(part), n)
	}
	assert.True(t, enc.Finished())
	assert.Equal(t, "4\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\n\r\n", wire.String())

	body, err := io.ReadAll(NewChunkedDecoder(&wire))
	require.NoError(t, err)
	assert.Equal(t, "Wikipedia in\r\n\r\nchunks.", string(body))
}

func TestChunkedRoundTripSmallReads(t *testing.T) {
	parts := []string{"a", strings.Repeat("b", 300), "", "never written"}

	var wire bytes.Buffer
	enc := NewChunkedEncoder(&wire)
	var want strings.Builder
	for _, part := range parts {
		if enc.Finished() {
			break
		}
		_, err := enc.Write([]byte(part))
		require.NoError(t, err)
		want.WriteString(part)
	}

	dec := NewChunkedDecoder(bufio.NewReaderSize(iotest.OneByteReader(&wire), 16))
	body, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(body))
}

func TestChunkedDecoderFinishedIsIdempotent(t *testing.T) {
	dec := NewChunkedDecoder(strings.NewReader("3\r\nabc\r\n0\r\n\r\n"))

	body, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))
	assert.True(t, dec.Finished())

	buf := make([]byte, 8)
	for range 3 {
		n, err := dec.Read(buf)
		assert.Zero(t, n)
		assert.Equal(t, io.EOF, err)
	}
}

func TestChunkedDecoderSkipsExtensionsAndTrailers(t *testing.T) {
	br := bufio.NewReader(strings.NewReader(
		"3;name=value\r\nabc\r\n0\r\nX-Checksum: 42\r\nX-Other: 1\r\n\r\nGET / HTTP/1.1\r\n"))

	body, err := io.ReadAll(NewChunkedDecoder(br))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))

	rest, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1\r\n", rest)
}

func TestChunkedDecoderInvalidSize(t *testing.T) {
	dec := NewChunkedDecoder(strings.NewReader("zz\r\nabc\r\n"))

	_, err := dec.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrInvalidChunkSize)

	// sticky
	_, err = dec.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestChunkedDecoderSizeOverflow(t *testing.T) {
	dec := NewChunkedDecoder(strings.NewReader("FFFFFFFFFFFFFFFFFFFF\r\n"))
	_, err := io.ReadAll(dec)
	require.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestChunkedDecoderMissingCRLF(t *testing.T) {
	dec := NewChunkedDecoder(strings.NewReader("3\r\nabcX\r\n0\r\n\r\n"))
	_, err := io.ReadAll(dec)
	require.ErrorIs(t, err, ErrMalformedChunk)
}

func TestChunkedDecoderTruncated(t *testing.T) {
	dec := NewChunkedDecoder(strings.NewReader("5\r\nab"))
	_, err := io.ReadAll(dec)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestChunkedDecoderTrailerLimit(t *testing.T) {
	dec := NewChunkedDecoder(strings.NewReader("0\r\nX-Big: " + strings.Repeat("a", 128) + "\r\n\r\n"))
	dec.TrailerLimit = 64

	_, err := io.ReadAll(dec)
	require.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestChunkedEncoderAfterFinish(t *testing.T) {
	var wire bytes.Buffer
	enc := NewChunkedEncoder(&wire)

	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())

	n, err := enc.Write(nil)
	assert.Zero(t, n)
	assert.NoError(t, err)

	n, err = enc.Write([]byte("late"))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrEncoderFinished)

	assert.Equal(t, "0\r\n\r\n", wire.String())
}

func TestChunkedEncoderFlushDelegates(t *testing.T) {
	var wire bytes.Buffer
	bw := bufio.NewWriter(&wire)
	enc := NewChunkedEncoder(bw)

	_, err := enc.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Zero(t, wire.Len())

	require.NoError(t, enc.Flush())
	assert.Equal(t, "5\r\nhello\r\n", wire.String())
}

func BenchmarkChunkedDecode(b *testing.B) {
	var wire bytes.Buffer
	enc := NewChunkedEncoder(&wire)
	chunk := bytes.Repeat([]byte("x"), 1024)
	for range 64 {
		enc.Write(chunk)
	}
	enc.Close()
	msg := wire.Bytes()

	reader := bytes.NewReader(msg)
	br := bufio.NewReader(reader)

	for b.Loop() {
		reader.Reset(msg)
		br.Reset(reader)
		if _, err := io.Copy(io.Discard, NewChunkedDecoder(br)); err != nil {
			b.Fatal(err)
		}
	}
}
