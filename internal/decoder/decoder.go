// Package decoder strips the yEnc or uuencode framing from an article body
// and yields the raw bytes plus the metadata the engine needs: the real
// filename and where in the final file the part belongs.
package decoder

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

var (
	// ErrNoEncoding: the body carried neither a yEnc nor a uuencode marker.
	ErrNoEncoding = errors.New("no yenc or uuencode data found")
	// ErrTruncated: the stream ended before the encoding's trailer.
	ErrTruncated = errors.New("encoded data truncated")
)

// Payload is one decoded article: the bytes plus part placement. CRCOK is
// false when the yEnc trailer CRC did not match; the caller treats that as
// a failed article, not as data.
type Payload struct {
	MessageID string
	Body      []byte
	Filename  string

	// PartBegin/PartEnd delimit the part in the assembled file,
	// zero-based, end exclusive.
	PartBegin int64
	PartEnd   int64

	CRCOK bool
}

// Decode consumes a dot-unstuffed article body. sizeHint presizes the
// decode buffer (the article byte size from the NZB); onFilename, when
// non-nil, fires as soon as the encoding header reveals the filename,
// before the body is consumed.
func Decode(r io.Reader, sizeHint int64, onFilename func(string)) (*Payload, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		line, err := readLine(br)
		if err != nil {
			if err == io.EOF {
				return nil, ErrNoEncoding
			}
			return nil, err
		}

		if strings.HasPrefix(line, "=ybegin ") {
			return decodeYenc(br, line, sizeHint, onFilename)
		}
		if strings.HasPrefix(line, "begin ") {
			return decodeUU(br, line, sizeHint, onFilename)
		}
	}
}

// readLine returns the next line without its CR/LF.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
