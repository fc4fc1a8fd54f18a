// middleware/compress.go
package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// CompressConfig tunes the brotli response compression.
type CompressConfig struct {
	Quality   int
	MinLength int
}

var DefaultCompressConfig = CompressConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

type compressWriter struct {
	gin.ResponseWriter
	writer     *brotli.Writer
	buf        []byte
	minLength  int
	once       sync.Once
	compressed bool
}

func (cw *compressWriter) Write(data []byte) (int, error) {
	cw.buf = append(cw.buf, data...)

	if len(cw.buf) >= cw.minLength {
		cw.once.Do(func() {
			cw.compressed = true
			cw.ResponseWriter.Header().Set("Content-Encoding", "br")
			cw.ResponseWriter.Header().Del("Content-Length")
		})
		n, err := cw.writer.Write(cw.buf)
		cw.buf = cw.buf[:0]
		return n, err
	}

	return len(data), nil
}

func (cw *compressWriter) WriteString(s string) (int, error) {
	return cw.Write([]byte(s))
}

// Flush drains the buffer as plain text and forwards the flush to the
// underlying writer. Streaming responses never see compressed output.
func (cw *compressWriter) Flush() {
	if len(cw.buf) > 0 {
		_, _ = cw.ResponseWriter.Write(cw.buf)
		cw.buf = cw.buf[:0]
	}
	cw.ResponseWriter.Flush()
}

func (cw *compressWriter) drain() error {
	if len(cw.buf) == 0 {
		return nil
	}
	_, err := cw.ResponseWriter.Write(cw.buf)
	cw.buf = cw.buf[:0]
	return err
}

// Compress applies brotli compression to responses above a minimum size.
// Short responses pass through untouched; room session upgrades on /ws
// are skipped entirely since the handshake must not be wrapped.
func Compress() gin.HandlerFunc {
	return CompressWithConfig(DefaultCompressConfig)
}

func CompressWithConfig(cfg CompressConfig) gin.HandlerFunc {
	if cfg.Quality < 0 || cfg.Quality > 11 {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultCompressConfig.MinLength
	}

	return func(c *gin.Context) {
		if isUpgrade(c.Request) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		cw := &compressWriter{
			ResponseWriter: c.Writer,
			minLength:      cfg.MinLength,
			writer:         brotli.NewWriterLevel(c.Writer, cfg.Quality),
		}

		defer func() {
			if err := cw.drain(); err != nil {
				_ = c.Error(err)
			}
			if cw.compressed {
				cw.writer.Close()
			}
		}()

		c.Writer = cw
		c.Next()
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	ae := r.Header.Get("Accept-Encoding")
	for _, enc := range strings.Split(ae, ",") {
		if strings.TrimSpace(strings.ToLower(enc)) == "br" {
			return true
		}
	}
	return false
}
