package extract

import (
	"bytes"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"

	lenserrors "github.com/loclens/loclens/internal/errors"
)

// candidateEncoding pairs a name with its decoder.
type candidateEncoding struct {
	name string
	enc  encoding.Encoding
}

// Decoding order matters: UTF-8 first, then BOM-required UTF-16, then the
// common Japanese encodings. ExpectBOM rejects input without a BOM, so
// Shift-JIS and EUC-JP bytes fall through instead of decoding as mojibake;
// the BOM itself selects the endianness.
var candidateEncodings = []candidateEncoding{
	{"utf-16", unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)},
	{"shift_jis", japanese.ShiftJIS},
	{"euc-jp", japanese.EUCJP},
}

// Text reads a plain text file, detecting the encoding by trial decode.
func Text(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lenserrors.FileError("file not found: "+path, err)
	}

	text, encName, err := decodeText(data)
	if err != nil {
		return nil, lenserrors.New(lenserrors.ErrCodeExtractionFailed,
			"failed to decode file: "+path, err)
	}

	return &Result{
		Text:      text,
		Encoding:  encName,
		LineCount: LineCount(text),
		Method:    MethodText,
	}, nil
}

// decodeText tries UTF-8 first, then each candidate encoding. A decode is
// accepted only when it produces no replacement characters.
func decodeText(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		// Strip a UTF-8 BOM if present
		return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), "utf-8", nil
	}

	for _, cand := range candidateEncodings {
		decoded, err := cand.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		if !bytes.ContainsRune(decoded, utf8.RuneError) {
			return string(decoded), cand.name, nil
		}
	}

	return "", "", lenserrors.New(lenserrors.ErrCodeExtractionFailed,
		"no candidate encoding decoded the file cleanly", nil)
}

// LineCount counts the lines in extracted text.
func LineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}
