package motion

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/fbirkner/nestcam/internal/ffmpeg"
	"github.com/fbirkner/nestcam/internal/procgroup"
)

// Sample geometry for the detection tap. Differencing does not need the full
// stream resolution; a small plane keeps the per-frame work cheap.
const (
	sampleWidth  = 320
	sampleHeight = 240
	sampleRate   = 2.5 // frames per second
)

// FrameSource yields consecutive grayscale frames from the shared transport.
type FrameSource interface {
	// Next blocks until a full frame is read. The returned slice is reused
	// by the next call.
	Next(ctx context.Context) ([]uint8, error)
	Close() error
}

// SourceOpener abstracts sampler construction so tests can inject synthetic
// frame sequences.
type SourceOpener func(ctx context.Context, source string) (FrameSource, error)

// ffmpegSampler decodes the transport into raw gray frames on stdout and
// hands them out one at a time.
type ffmpegSampler struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []uint8
}

// OpenSampler spawns the decode tap against source. The process lives until
// Close; a broken transport surfaces as a read error from Next.
func OpenSampler(ctx context.Context, bin, source string) (FrameSource, error) {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, ffmpeg.InputArgs(source)...)
	args = append(args,
		"-vf", fmt.Sprintf("fps=%g,scale=%d:%d", sampleRate, sampleWidth, sampleHeight),
		"-pix_fmt", "gray",
		"-f", "rawvideo",
		"-",
	)

	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 -- args are built internally
	procgroup.Set(cmd)
	cmd.Stderr = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("motion: sampler stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("motion: start sampler: %w", err)
	}

	return &ffmpegSampler{
		cmd:    cmd,
		stdout: stdout,
		buf:    make([]uint8, sampleWidth*sampleHeight),
	}, nil
}

func (s *ffmpegSampler) Next(ctx context.Context) ([]uint8, error) {
	type readResult struct {
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		_, err := io.ReadFull(s.stdout, s.buf)
		done <- readResult{err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("motion: read frame: %w", res.err)
		}
		return s.buf, nil
	}
}

func (s *ffmpegSampler) Close() error {
	pid := 0
	if s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	_ = s.stdout.Close()
	if pid > 0 {
		_ = procgroup.KillGroup(pid, 0, samplerKillTimeout)
	}
	_ = s.cmd.Wait()
	return nil
}

const samplerKillTimeout = 3 * time.Second
