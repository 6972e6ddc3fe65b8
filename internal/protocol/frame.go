package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
)

const (
	// LengthPrefixSize is the number of ASCII digits that precede every payload.
	LengthPrefixSize = 4

	// MaxPayloadLength is the largest payload that fits into the length prefix.
	MaxPayloadLength = 9999

	// readBufferSize is the chunk size used for each read from the connection.
	readBufferSize = 8192
)

// ErrMalformedFrame is returned when the length prefix is not four ASCII digits
// encoding a positive number. The connection must be terminated.
var ErrMalformedFrame = errors.New("malformed frame length prefix")

// ErrInvalidLength is returned when a payload cannot be framed.
var ErrInvalidLength = errors.New("payload length must be between 1 and 9999 bytes")

// ReadResult is a single extracted command payload plus whatever bytes followed it.
type ReadResult struct {
	// Command is the payload of the frame (the command JSON text).
	Command string

	// Leftover holds the bytes read past the end of the frame. They belong to the
	// next frame and must be fed into the next ReadFrame call.
	Leftover []byte
}

// ReadFrame reads from r until one full frame is available, starting from the
// given leftover bytes of a previous call.
//
// It returns io.EOF when the stream ends before any frame data was buffered,
// io.ErrUnexpectedEOF when the stream ends in the middle of a frame and
// ErrMalformedFrame when the length prefix is invalid.
func ReadFrame(leftover []byte, r io.Reader) (ReadResult, error) {
	var storage bytes.Buffer
	storage.Write(leftover)

	chunk := make([]byte, readBufferSize)
	commandSize := -1

	for {
		if commandSize == -1 && storage.Len() >= LengthPrefixSize {
			size, err := parseLengthPrefix(storage.Bytes()[:LengthPrefixSize])
			if err != nil {
				return ReadResult{}, err
			}
			commandSize = size
		}

		if commandSize != -1 {
			total := LengthPrefixSize + commandSize
			if storage.Len() >= total {
				buffered := storage.Bytes()
				result := ReadResult{
					Command:  string(buffered[LengthPrefixSize:total]),
					Leftover: append([]byte(nil), buffered[total:]...),
				}
				slog.Debug("read frame", "size", commandSize, "leftover", len(result.Leftover))
				return result, nil
			}
		}

		n, err := r.Read(chunk)
		if n > 0 {
			storage.Write(chunk[:n])
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if storage.Len() == 0 {
					return ReadResult{}, io.EOF
				}
				return ReadResult{}, io.ErrUnexpectedEOF
			}
			return ReadResult{}, err
		}
	}
}

// parseLengthPrefix accepts exactly four ASCII digits with a positive value.
func parseLengthPrefix(prefix []byte) (int, error) {
	for _, b := range prefix {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedFrame, prefix)
		}
	}
	size, err := strconv.Atoi(string(prefix))
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedFrame, prefix)
	}
	return size, nil
}

// NormalizeLengthPrefix renders a payload length as a zero-padded four digit string.
func NormalizeLengthPrefix(length int) (string, error) {
	if length <= 0 || length > MaxPayloadLength {
		return "", fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	}
	return fmt.Sprintf("%0*d", LengthPrefixSize, length), nil
}

// EncodeFrame prefixes the payload with its length.
func EncodeFrame(payload string) ([]byte, error) {
	prefix, err := NormalizeLengthPrefix(len(payload))
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, LengthPrefixSize+len(payload))
	frame = append(frame, prefix...)
	frame = append(frame, payload...)
	return frame, nil
}

// Reader extracts consecutive frames from a stream, carrying leftover bytes
// between calls.
type Reader struct {
	r        io.Reader
	leftover []byte
}

// NewReader creates a frame reader on top of r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadCommand returns the next command payload.
func (fr *Reader) ReadCommand() (string, error) {
	result, err := ReadFrame(fr.leftover, fr.r)
	if err != nil {
		return "", err
	}
	fr.leftover = result.Leftover
	return result.Command, nil
}

// Buffered returns the number of bytes read from the stream but not yet consumed.
func (fr *Reader) Buffered() int {
	return len(fr.leftover)
}

// WriteFrame frames the payload and writes it to w.
func WriteFrame(w io.Writer, payload string) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
