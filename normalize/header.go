package normalize

import (
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

var (
	strictDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}
	lossyDecoder  = &mime.WordDecoder{CharsetReader: passthroughCharset}
)

// passthroughCharset tries the registered charsets and otherwise hands the
// bytes through untouched so they can be repaired as UTF-8 afterwards.
func passthroughCharset(name string, input io.Reader) (io.Reader, error) {
	if r, err := charset.Reader(name, input); err == nil {
		return r, nil
	}
	return input, nil
}

// DecodeHeader decodes RFC 2047 encoded words. Unknown charsets and malformed
// words never fail: undecodable bytes become U+FFFD.
func DecodeHeader(value string) string {
	decoded, err := strictDecoder.DecodeHeader(value)
	if err != nil {
		decoded, err = lossyDecoder.DecodeHeader(value)
		if err != nil {
			decoded = value
		}
	}
	return strings.ToValidUTF8(decoded, "\uFFFD")
}
