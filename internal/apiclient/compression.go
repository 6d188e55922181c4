// apiclient/compression.go
package apiclient

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is advertised on every request that does not set its own.
const AcceptEncoding = "br, gzip, deflate"

var (
	gzipPool   = sync.Pool{New: func() any { return new(gzip.Reader) }}
	brotliPool = sync.Pool{New: func() any { return brotli.NewReader(nil) }}

	drained = strings.NewReader("")
)

// DecompressionMiddleware is a RoundTripper that negotiates compression and hands
// callers a plain body.
type DecompressionMiddleware struct {
	next http.RoundTripper
}

// NewDecompressionMiddleware wraps next, or http.DefaultTransport if nil.
func NewDecompressionMiddleware(next http.RoundTripper) *DecompressionMiddleware {
	if next == nil {
		next = http.DefaultTransport
	}
	return &DecompressionMiddleware{next: next}
}

func (m *DecompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", AcceptEncoding)
	}

	resp, err := m.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := Decompress(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return resp, nil
}

// Decompress replaces resp.Body with a decoding reader for every Content-Encoding
// layer, outermost first. On error the body may be partially consumed.
func Decompress(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	var layers []string
	for _, v := range resp.Header.Values("Content-Encoding") {
		for _, enc := range strings.Split(v, ",") {
			if enc = strings.ToLower(strings.TrimSpace(enc)); enc != "" && enc != "identity" {
				layers = append(layers, enc)
			}
		}
	}
	if len(layers) == 0 {
		return nil
	}

	for i := len(layers) - 1; i >= 0; i-- {
		body, err := decoderFor(layers[i], resp.Body)
		if err != nil {
			return err
		}
		resp.Body = body
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

func decoderFor(encoding string, src io.ReadCloser) (io.ReadCloser, error) {
	switch encoding {
	case "gzip", "x-gzip":
		zr := gzipPool.Get().(*gzip.Reader)
		if err := zr.Reset(src); err != nil {
			gzipPool.Put(zr)
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &layeredBody{Reader: zr, src: src, release: func() {
			_ = zr.Reset(drained)
			gzipPool.Put(zr)
		}}, nil

	case "br":
		br := brotliPool.Get().(*brotli.Reader)
		if err := br.Reset(src); err != nil {
			brotliPool.Put(br)
			return nil, fmt.Errorf("brotli: %w", err)
		}
		return &layeredBody{Reader: br, src: src, release: func() {
			_ = br.Reset(drained)
			brotliPool.Put(br)
		}}, nil

	case "deflate":
		return &layeredBody{Reader: newDeflateReader(src), src: src}, nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

// newDeflateReader accepts both zlib-wrapped (RFC 1950) and raw (RFC 1951) deflate,
// since servers disagree on what "deflate" means.
func newDeflateReader(r io.Reader) io.Reader {
	buffered := bufio.NewReader(r)
	header, err := buffered.Peek(2)
	if err == nil && isZlibHeader(header) {
		if zr, err := zlib.NewReader(buffered); err == nil {
			return zr
		}
	}
	return flate.NewReader(buffered)
}

func isZlibHeader(h []byte) bool {
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}

// layeredBody closes the decoder, returns pooled readers and closes the wrapped body.
type layeredBody struct {
	io.Reader
	src     io.ReadCloser
	release func()
	once    sync.Once
}

func (b *layeredBody) Close() error {
	var errDecoder error
	b.once.Do(func() {
		if c, ok := b.Reader.(io.Closer); ok {
			errDecoder = c.Close()
		}
		if b.release != nil {
			b.release()
		}
	})
	return errors.Join(errDecoder, b.src.Close())
}
