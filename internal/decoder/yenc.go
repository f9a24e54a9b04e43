package decoder

import (
	"bufio"
	"hash/crc32"
	"io"
	"strconv"
	"strings"
)

type yencHeader struct {
	name  string
	size  int64
	part  int
	total int
	begin int64 // 1-based, from =ypart
	end   int64
}

// decodeYenc handles the body after its "=ybegin" line: optional =ypart,
// the escaped payload, and the =yend trailer with the part CRC.
func decodeYenc(br *bufio.Reader, beginLine string, sizeHint int64, onFilename func(string)) (*Payload, error) {
	hdr := parseYencFields(beginLine)

	if hdr.name != "" && onFilename != nil {
		onFilename(hdr.name)
	}

	// Multi-part posts carry an =ypart line with the byte range.
	if hdr.part > 0 {
		line, err := readLine(br)
		if err != nil {
			return nil, ErrTruncated
		}
		if strings.HasPrefix(line, "=ypart ") {
			part := parseYencFields(line)
			hdr.begin = part.begin
			hdr.end = part.end
		}
	}

	capacity := sizeHint
	if hdr.end > hdr.begin {
		capacity = hdr.end - hdr.begin + 1
	}
	if capacity <= 0 {
		capacity = 64 * 1024
	}
	body := make([]byte, 0, capacity)
	hash := crc32.NewIEEE()

	var trailer string
	escaped := false

	for {
		raw, err := br.ReadSlice('\n')
		if len(raw) == 0 && err != nil {
			if err == io.EOF {
				return nil, ErrTruncated
			}
			if err != bufio.ErrBufferFull {
				return nil, err
			}
		}

		line := raw
		for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
			line = line[:len(line)-1]
		}

		if !escaped && len(line) >= 5 && string(line[:5]) == "=yend" {
			trailer = string(line)
			break
		}

		mark := len(body)
		for _, b := range line {
			if escaped {
				body = append(body, b-64-42)
				escaped = false
				continue
			}
			if b == '=' {
				escaped = true
				continue
			}
			body = append(body, b-42)
		}
		hash.Write(body[mark:])

		if err == io.EOF {
			return nil, ErrTruncated
		}
	}

	foot := parseYencFields(trailer)

	p := &Payload{
		Body:     body,
		Filename: hdr.name,
		CRCOK:    true,
	}

	// Part placement: =ypart begin is 1-based; a single-part post covers
	// the whole file.
	if hdr.begin > 0 {
		p.PartBegin = hdr.begin - 1
		p.PartEnd = hdr.end
	} else {
		p.PartBegin = 0
		p.PartEnd = int64(len(body))
	}

	if foot.crcSet {
		p.CRCOK = hash.Sum32() == foot.crc
	}
	if foot.size > 0 && foot.size != int64(len(body)) {
		p.CRCOK = false
	}

	return p, nil
}

type yencFields struct {
	yencHeader
	crc     uint32
	crcSet  bool
	pcrcSet bool
}

// parseYencFields splits a =ybegin/=ypart/=yend line into its key=value
// attributes. name= runs to the end of the line and may contain spaces, so
// it is carved out first.
func parseYencFields(line string) yencFields {
	var f yencFields

	if idx := strings.Index(line, " name="); idx != -1 {
		f.name = strings.TrimSpace(line[idx+len(" name="):])
		line = line[:idx]
	}

	for _, tok := range strings.Fields(line) {
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		switch key {
		case "size":
			f.size, _ = strconv.ParseInt(val, 10, 64)
		case "part":
			f.part, _ = strconv.Atoi(val)
		case "total":
			f.total, _ = strconv.Atoi(val)
		case "begin":
			f.begin, _ = strconv.ParseInt(val, 10, 64)
		case "end":
			f.end, _ = strconv.ParseInt(val, 10, 64)
		case "pcrc32":
			if crc, err := strconv.ParseUint(val, 16, 32); err == nil {
				f.crc = uint32(crc)
				f.crcSet = true
				f.pcrcSet = true
			}
		case "crc32":
			// Whole-file CRC; the part CRC wins when both are present.
			if !f.pcrcSet {
				if crc, err := strconv.ParseUint(val, 16, 32); err == nil {
					f.crc = uint32(crc)
					f.crcSet = true
				}
			}
		}
	}

	return f
}
