package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

const defaultChunkSize = 1 << 20

var (
	// ErrDownloadBusy is returned when a download is already in flight.
	ErrDownloadBusy = errors.New("a download is already in progress")
	// ErrCancelled is returned when a download was cancelled. The resume
	// offset has been persisted when this is returned.
	ErrCancelled = errors.New("download cancelled")
)

// DownloadState tracks one transfer. The byte counters are written by the
// transfer goroutine only and may be read concurrently without locking.
type DownloadState struct {
	URL        string
	OutputPath string

	totalBytes      atomic.Uint64
	downloadedBytes atomic.Uint64
	complete        atomic.Bool
	cancelled       atomic.Bool

	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
}

func newDownloadState(url, outputPath string) *DownloadState {
	s := &DownloadState{URL: url, OutputPath: outputPath}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Total returns the expected size in bytes, 0 if the server did not say.
func (s *DownloadState) Total() uint64 { return s.totalBytes.Load() }

// Downloaded returns the number of bytes written so far.
func (s *DownloadState) Downloaded() uint64 { return s.downloadedBytes.Load() }

// Complete reports whether the transfer finished.
func (s *DownloadState) Complete() bool { return s.complete.Load() }

// Pause blocks the transfer loop at the next chunk boundary.
func (s *DownloadState) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume unblocks a paused transfer.
func (s *DownloadState) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Cancel stops the transfer at the next chunk boundary, unblocking a paused
// one first.
func (s *DownloadState) Cancel() {
	s.cancelled.Store(true)
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

// waitIfPaused blocks while the transfer is paused. Cancel releases it.
func (s *DownloadState) waitIfPaused() {
	s.mu.Lock()
	for s.paused && !s.cancelled.Load() {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// ProgressFunc receives percentage complete, current speed in bytes per
// second and the expected total size after every chunk.
type ProgressFunc func(percentage int, bytesPerSecond, totalBytes uint64)

// Downloader performs resumable, bandwidth-shaped file downloads. Only one
// transfer may run at a time.
type Downloader struct {
	http  *http.Client
	clock clock.Clock
	cfg   *Config
	log   *zap.Logger
	chunk uint64

	mu     sync.Mutex
	active bool
	state  *DownloadState
}

// NewDownloader returns a downloader persisting resume offsets into cfg.
func NewDownloader(hc *http.Client, cfg *Config, log *zap.Logger) *Downloader {
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Downloader{
		http:  hc,
		clock: clock.WallClock,
		cfg:   cfg,
		log:   log,
		chunk: defaultChunkSize,
	}
}

// State returns the state of the current or most recent transfer, nil if
// none has started.
func (d *Downloader) State() *DownloadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pause pauses the current transfer, if any.
func (d *Downloader) Pause() {
	if s := d.State(); s != nil {
		s.Pause()
	}
}

// Resume resumes a paused transfer, if any.
func (d *Downloader) Resume() {
	if s := d.State(); s != nil {
		s.Resume()
	}
}

// Cancel cancels the current transfer, if any.
func (d *Downloader) Cancel() {
	if s := d.State(); s != nil {
		s.Cancel()
	}
}

func (d *Downloader) begin(url, outputPath string) (*DownloadState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return nil, ErrDownloadBusy
	}
	d.active = true
	d.state = newDownloadState(url, outputPath)
	return d.state, nil
}

func (d *Downloader) end() {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
}

// Download fetches url into outputPath. A resume offset previously recorded
// for the same output path turns into a Range request appended to the
// partial file. Cancellation persists the current offset and returns
// ErrCancelled.
func (d *Downloader) Download(ctx context.Context, url, outputPath string, progress ProgressFunc) error {
	state, err := d.begin(url, outputPath)
	if err != nil {
		return err
	}
	defer d.end()

	d.log.Info("starting download", zap.String("url", url), zap.String("path", outputPath))

	var startOffset uint64
	if offset := d.cfg.ResumeFor(outputPath); offset > 0 {
		if _, err := os.Stat(outputPath); err == nil {
			startOffset = offset
			d.log.Info("resuming download", zap.Uint64("offset", startOffset))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "AltMan")
	if startOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startOffset))
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range request, start over.
		startOffset = 0
	case http.StatusPartialContent:
	default:
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if startOffset > 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	file, err := os.OpenFile(outputPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	if resp.ContentLength > 0 {
		state.totalBytes.Store(startOffset + uint64(resp.ContentLength))
	}
	state.downloadedBytes.Store(startOffset)

	limit := d.cfg.BandwidthLimit
	chunkSize := d.chunk
	if limit > 0 && limit < chunkSize {
		chunkSize = limit
	}

	startTime := d.clock.Now()
	lastChunkTime := startTime
	buf := make([]byte, chunkSize)

	report := func(percentage int) {
		if progress == nil {
			return
		}
		var speed uint64
		if elapsed := d.clock.Now().Sub(startTime); elapsed >= time.Second {
			speed = (state.Downloaded() - startOffset) / uint64(elapsed/time.Second)
		}
		progress(percentage, speed, state.Total())
	}

	if startOffset > 0 && state.Total() > 0 {
		report(int(startOffset * 100 / state.Total()))
	}

	for {
		if state.cancelled.Load() {
			file.Close()
			if err := d.cfg.SetResume(outputPath, state.Downloaded()); err != nil {
				d.log.Error("failed to persist resume offset", zap.Error(err))
			}
			d.log.Info("download cancelled, progress saved for resume",
				zap.Uint64("offset", state.Downloaded()))
			return ErrCancelled
		}

		state.waitIfPaused()

		n, readErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return fmt.Errorf("write chunk: %w", err)
			}
			state.downloadedBytes.Add(uint64(n))

			if limit > 0 {
				elapsed := d.clock.Now().Sub(lastChunkTime)
				expected := time.Duration(n) * time.Second / time.Duration(limit)
				if elapsed < expected {
					<-d.clock.After(expected - elapsed)
				}
				lastChunkTime = d.clock.Now()
			}

			if total := state.Total(); total > 0 {
				report(int(state.Downloaded() * 100 / total))
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read chunk: %w", readErr)
		}
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	state.complete.Store(true)
	report(100)

	if err := d.cfg.ClearResume(); err != nil {
		d.log.Error("failed to clear resume state", zap.Error(err))
	}
	d.log.Info("download complete", zap.String("path", outputPath),
		zap.Uint64("bytes", state.Downloaded()))
	return nil
}
