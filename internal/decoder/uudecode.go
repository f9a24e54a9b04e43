package decoder

import (
	"bufio"
	"strings"
)

// decodeUU handles a uuencoded body after its "begin <mode> <name>" line.
// Uuencode carries no CRC, so CRCOK is always true for a well-formed body.
func decodeUU(br *bufio.Reader, beginLine string, sizeHint int64, onFilename func(string)) (*Payload, error) {
	var name string
	fields := strings.SplitN(beginLine, " ", 3)
	if len(fields) == 3 {
		name = strings.TrimSpace(fields[2])
	}

	if name != "" && onFilename != nil {
		onFilename(name)
	}

	capacity := sizeHint
	if capacity <= 0 {
		capacity = 64 * 1024
	}
	body := make([]byte, 0, capacity)

	for {
		line, err := readLine(br)
		if err != nil {
			return nil, ErrTruncated
		}

		if line == "end" {
			break
		}
		if line == "" {
			continue
		}

		// First byte encodes the decoded length of the line; a backtick
		// (or space) means zero and precedes "end".
		n := int(uuVal(line[0]))
		if n == 0 {
			continue
		}

		data := line[1:]
		for i := 0; i+3 < len(data) && n > 0; i += 4 {
			c0 := uuVal(data[i])
			c1 := uuVal(data[i+1])
			c2 := uuVal(data[i+2])
			c3 := uuVal(data[i+3])

			triple := [3]byte{
				c0<<2 | c1>>4,
				c1<<4 | c2>>2,
				c2<<6 | c3,
			}
			for k := 0; k < 3 && n > 0; k++ {
				body = append(body, triple[k])
				n--
			}
		}
	}

	return &Payload{
		Body:      body,
		Filename:  name,
		PartBegin: 0,
		PartEnd:   int64(len(body)),
		CRCOK:     true,
	}, nil
}

// uuVal maps an encoded character to its 6-bit value; backtick stands in
// for space.
func uuVal(c byte) byte {
	return (c - 32) & 63
}
