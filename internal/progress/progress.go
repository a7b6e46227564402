// Package progress provides byte-counting helpers for archive and upload progress.
package progress

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/vaultcourier/internal/models"
	"github.com/rs/zerolog"
)

// Nop is a progress callback that does nothing.
func Nop(int64, int64) {}

// OrNop returns fn, or Nop when fn is nil.
func OrNop(fn models.ProgressFunc) models.ProgressFunc {
	if fn == nil {
		return Nop
	}
	return fn
}

// Reader reports the bytes read through it to a progress callback.
type Reader struct {
	r     io.Reader
	done  int64
	total int64
	fn    models.ProgressFunc
}

// NewReader wraps r so that every read advances the progress of total bytes.
func NewReader(r io.Reader, total int64, fn models.ProgressFunc) *Reader {
	return &Reader{r: r, total: total, fn: OrNop(fn)}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.done += int64(n)
		r.fn(r.done, r.total)
	}
	return n, err
}

// Logger returns a callback that logs every 10% step of an operation.
func Logger(logger zerolog.Logger, operation string) models.ProgressFunc {
	lastStep := int64(-1)
	return func(done, total int64) {
		if total <= 0 {
			return
		}
		step := done * 10 / total
		if step == lastStep {
			return
		}
		lastStep = step
		logger.Debug().
			Str("operation", operation).
			Int64("percent", step*10).
			Str("done", humanize.IBytes(uint64(done))).
			Str("total", humanize.IBytes(uint64(total))).
			Msg("progress")
	}
}
