package auth

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// maxChunkHeaderLine bounds one aws-chunked header line.
	maxChunkHeaderLine = 4096

	// maxChunkSize bounds a single chunk's staged data. AWS SDKs emit
	// chunks of at most a few MiB; anything larger is treated as
	// protocol corruption rather than buffered unboundedly.
	maxChunkSize = 16 << 20

	chunkSignaturePrefix = "chunk-signature="
)

// ChunkedReader decodes an aws-chunked request body, validating each chunk's
// signature through a ChunkSigningSession before releasing any of that
// chunk's bytes to the caller.
//
// The wire signature arrives in the chunk header but covers the chunk's
// data, so each chunk is staged and hashed in full before the signature
// comparison; only validated bytes ever leave Read. Beyond that one-chunk
// stage there is no buffering, so backpressure from the consumer propagates
// to the inbound stream.
//
// Reads return io.EOF only after a validated zero-length terminal chunk.
// A stream that ends early yields ErrIncompleteChunkedBody instead.
type ChunkedReader struct {
	reader  *bufio.Reader
	closer  io.Closer
	session *ChunkSigningSession

	declaredLength int64
	decodedSoFar   int64

	chunk    bytes.Buffer // validated bytes of the current chunk
	sawFinal bool
	err      error // sticky
}

// NewChunkedReader wraps src with aws-chunked decoding bound to session.
// decodedContentLength is the client-declared x-amz-decoded-content-length;
// the summed chunk sizes must never exceed it.
func NewChunkedReader(src io.Reader, session *ChunkSigningSession, decodedContentLength int64) *ChunkedReader {
	cr := &ChunkedReader{
		reader:         bufio.NewReader(src),
		session:        session,
		declaredLength: decodedContentLength,
	}
	if c, ok := src.(io.Closer); ok {
		cr.closer = c
	}
	return cr
}

// Read implements io.Reader. Each call serves at most the remainder of the
// current validated chunk; crossing a chunk boundary triggers the next
// header parse and signature check inline.
func (cr *ChunkedReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}

	for cr.chunk.Len() == 0 {
		if cr.sawFinal {
			return 0, io.EOF
		}
		if err := cr.nextChunk(); err != nil {
			cr.err = err
			return 0, err
		}
	}

	return cr.chunk.Read(p)
}

// nextChunk reads one chunk header, stages and validates the chunk's data,
// and handles the terminal chunk.
func (cr *ChunkedReader) nextChunk() error {
	size, signature, err := cr.readChunkHeader()
	if err != nil {
		return err
	}

	if err := cr.session.StartChunk(signature); err != nil {
		return err
	}

	if size == 0 {
		if err := cr.session.Complete(); err != nil {
			return err
		}
		// Terminal chunk: empty line, then the stream must end.
		if err := cr.expectCRLF(); err != nil {
			return err
		}
		if _, err := cr.reader.Peek(1); err != io.EOF {
			return fmt.Errorf("%w: trailing data after terminal chunk", ErrMalformedChunkHeader)
		}
		cr.sawFinal = true
		return nil
	}

	if cr.declaredLength >= 0 && cr.decodedSoFar+size > cr.declaredLength {
		return ErrDeclaredLengthExceeded
	}

	// Stage the chunk, hashing as it arrives. Nothing is released until
	// the signature over the staged bytes checks out.
	cr.chunk.Reset()
	cr.chunk.Grow(int(size))
	if _, err := io.CopyN(io.MultiWriter(&cr.chunk, cr.session), cr.reader, size); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			cr.chunk.Reset()
			return ErrIncompleteChunkedBody
		}
		cr.chunk.Reset()
		return err
	}
	if err := cr.expectCRLF(); err != nil {
		cr.chunk.Reset()
		return err
	}

	if err := cr.session.FinishChunk(); err != nil {
		cr.chunk.Reset()
		return err
	}

	cr.decodedSoFar += size
	return nil
}

// readChunkHeader parses one CRLF-terminated header line of the form
// hex-size[;ext=value]*;chunk-signature=sig.
func (cr *ChunkedReader) readChunkHeader() (int64, string, error) {
	line, err := cr.readHeaderLine()
	if err != nil {
		return 0, "", err
	}

	parts := strings.Split(line, ";")
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("%w: missing chunk signature", ErrMalformedChunkHeader)
	}

	size, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || size < 0 {
		return 0, "", fmt.Errorf("%w: invalid chunk size %q", ErrMalformedChunkHeader, parts[0])
	}
	if size > maxChunkSize {
		return 0, "", fmt.Errorf("%w: chunk size %d exceeds maximum", ErrMalformedChunkHeader, size)
	}

	// The signature is the last extension; anything between size and
	// signature is an ignorable chunk extension.
	last := parts[len(parts)-1]
	if !strings.HasPrefix(last, chunkSignaturePrefix) {
		return 0, "", fmt.Errorf("%w: missing chunk signature", ErrMalformedChunkHeader)
	}
	signature := strings.TrimPrefix(last, chunkSignaturePrefix)

	return size, signature, nil
}

// readHeaderLine reads one CRLF-terminated line, bounded by maxChunkHeaderLine.
func (cr *ChunkedReader) readHeaderLine() (string, error) {
	var line []byte
	for {
		b, err := cr.reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				return "", ErrIncompleteChunkedBody
			}
			return "", err
		}
		line = append(line, b)
		if b == '\n' {
			break
		}
		if len(line) > maxChunkHeaderLine {
			return "", fmt.Errorf("%w: header line too long", ErrMalformedChunkHeader)
		}
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return "", fmt.Errorf("%w: header line not CRLF terminated", ErrMalformedChunkHeader)
	}
	return string(line[:len(line)-2]), nil
}

// expectCRLF consumes the CRLF trailing a chunk's data.
func (cr *ChunkedReader) expectCRLF() error {
	var crlf [2]byte
	if _, err := io.ReadFull(cr.reader, crlf[:]); err != nil {
		return ErrIncompleteChunkedBody
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		return fmt.Errorf("%w: chunk data not CRLF terminated", ErrMalformedChunkHeader)
	}
	return nil
}

// DecodedBytes returns the number of validated payload bytes seen so far.
func (cr *ChunkedReader) DecodedBytes() int64 {
	return cr.decodedSoFar
}

// Close closes the underlying stream when it is closable.
func (cr *ChunkedReader) Close() error {
	if cr.closer != nil {
		return cr.closer.Close()
	}
	return nil
}
