// Package recipients turns an uploaded spreadsheet into a list of email
// addresses taken from column A of its first worksheet.
package recipients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedType is returned by Accept for files outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrDecode is returned by Extract when the bytes are not a readable spreadsheet.
	ErrDecode = errors.New("could not decode spreadsheet")
)

// Media types accepted by the file-type gate.
const (
	MediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaTypeXLS  = "application/vnd.ms-excel"
	MediaTypeCSV  = "text/csv"
)

var acceptedMediaTypes = map[string]struct{}{
	MediaTypeXLSX: {},
	MediaTypeXLS:  {},
	MediaTypeCSV:  {},
}

// Container signatures used to pick a decoder.
var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Origin identifies how a file reached the client.
type Origin int

const (
	// OriginChooser is a file picked explicitly by the user.
	OriginChooser Origin = iota
	// OriginDrop is a file dropped onto the client.
	OriginDrop
)

func (o Origin) String() string {
	switch o {
	case OriginChooser:
		return "chooser"
	case OriginDrop:
		return "drop"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Accept reports whether a file may be read, based on its declared media
// type or, failing that, its name. It never looks at the content.
func Accept(name, mediaType string) error {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if _, ok := acceptedMediaTypes[mt]; ok {
		return nil
	}

	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls") {
		return nil
	}

	return fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, name, mediaType)
}

// Valid reports whether a cell value is kept as a recipient: non-empty after
// trimming and containing "@". No further address syntax is checked.
func Valid(v string) bool {
	t := strings.TrimSpace(v)
	return t != "" && strings.Contains(t, "@")
}

// Extract reads r to the end, decodes it as a workbook and returns the
// column A values of the first worksheet that pass Valid, in row order.
// Values are returned as stored, without trimming or de-duplication.
// An empty result is not an error.
func Extract(ctx context.Context, r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	column, err := firstColumn(data)
	if err != nil {
		return nil, err
	}

	emails := make([]string, 0, len(column))
	for _, v := range column {
		if Valid(v) {
			emails = append(emails, v)
		}
	}
	return emails, nil
}

// firstColumn sniffs the container format and returns column A of the first
// worksheet, one entry per row starting at row 1.
func firstColumn(data []byte) ([]string, error) {
	switch {
	case len(data) == 0:
		return nil, fmt.Errorf("%w: file is empty", ErrDecode)
	case bytes.HasPrefix(data, zipMagic):
		return readXLSX(data)
	case bytes.HasPrefix(data, oleMagic):
		return readXLS(data)
	case utf8.Valid(data):
		return readCSV(data)
	default:
		return nil, fmt.Errorf("%w: unrecognized file format", ErrDecode)
	}
}
