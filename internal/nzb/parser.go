package nzb

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

var ErrEmptyNZB = errors.New("nzb contains no files")

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes an NZB document and returns the model plus the MD5 of the
// raw document, which doubles as the duplicate-detection key.
func (p *Parser) Parse(r io.Reader) (*Model, string, error) {
	hash := md5.New()
	tee := io.TeeReader(r, hash)

	var model Model
	decoder := xml.NewDecoder(tee)
	if err := decoder.Decode(&model); err != nil {
		return nil, "", fmt.Errorf("malformed nzb: %w", err)
	}

	// Drain the tail so the hash covers the whole document.
	_, _ = io.Copy(io.Discard, tee)

	if len(model.Files) == 0 {
		return nil, "", ErrEmptyNZB
	}

	return &model, hex.EncodeToString(hash.Sum(nil)), nil
}
