package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/kamalhaddad/texttovideo-orchestrator/job"
	"github.com/kamalhaddad/texttovideo-orchestrator/params"
)

// Subprocess addresses the generator as a child process over a local
// line-delimited JSON protocol:
//
//   - one request line is written to the child's stdin: the generation
//     parameters plus the assigned device index and output path.
//   - the child writes zero or more progress lines, {"progress":0.xx},
//     to stdout as it works.
//   - the child writes exactly one final line, either
//     {"ok":true,"path":"..."} or {"ok":false,"kind":"...","detail":"..."},
//     and then exits.
//
// Subprocess polls the ProgressSink for cancellation on a fixed
// interval; on the first positive observation it writes a
// {"cancel":true} line so a well-behaved child can stop cleanly, and
// forcibly kills the child if it has not exited within CancelGrace.
type Subprocess struct {
	// Bin is the path to the generator executable.
	Bin string
	// Args are additional arguments passed to Bin before the request
	// protocol takes over on stdin/stdout.
	Args []string
	// CancelPollInterval controls how often IsCancelled is consulted.
	// Defaults to 250ms.
	CancelPollInterval time.Duration
	// CancelGrace is how long the child is given to exit cleanly after
	// a cancel line is sent before it is killed. Defaults to 5s.
	CancelGrace time.Duration
}

type subprocessRequest struct {
	Prompt            string  `json:"prompt"`
	NumFrames         int     `json:"num_frames"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	FPS               int     `json:"fps"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Seed              int64   `json:"seed"`
	DeviceID          int     `json:"device_id"`
	OutputPath        string  `json:"output_path"`
}

type subprocessCommand struct {
	Cancel bool `json:"cancel"`
}

type subprocessMessage struct {
	Progress *float64 `json:"progress"`
	OK       *bool    `json:"ok"`
	Path     string   `json:"path"`
	Kind     string   `json:"kind"`
	Detail   string   `json:"detail"`
}

func (s *Subprocess) pollInterval() time.Duration {
	if s.CancelPollInterval > 0 {
		return s.CancelPollInterval
	}
	return 250 * time.Millisecond
}

func (s *Subprocess) cancelGrace() time.Duration {
	if s.CancelGrace > 0 {
		return s.CancelGrace
	}
	return 5 * time.Second
}

// Generate implements Generator.
func (s *Subprocess) Generate(ctx context.Context, p params.GenerationParams, deviceID int, outputPath string, sink ProgressSink) error {
	cmd := exec.Command(s.Bin, s.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return NewError(job.ErrorKindGenerator, fmt.Sprintf("stdin pipe: %v", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return NewError(job.ErrorKindGenerator, fmt.Sprintf("stdout pipe: %v", err))
	}
	if err := cmd.Start(); err != nil {
		return NewError(job.ErrorKindGenerator, fmt.Sprintf("start: %v", err))
	}

	enc := json.NewEncoder(stdin)
	req := subprocessRequest{
		Prompt:            p.Prompt,
		NumFrames:         p.NumFrames,
		NumInferenceSteps: p.NumInferenceSteps,
		GuidanceScale:     p.GuidanceScale,
		FPS:               p.FPS,
		Width:             p.Width,
		Height:            p.Height,
		Seed:              p.Seed,
		DeviceID:          deviceID,
		OutputPath:        outputPath,
	}
	if err := enc.Encode(req); err != nil {
		_ = cmd.Process.Kill()
		return NewError(job.ErrorKindGenerator, fmt.Sprintf("write request: %v", err))
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
		readErr <- sc.Err()
		close(lines)
	}()

	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()
	var cancelSentAt time.Time

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				waitErr := cmd.Wait()
				if waitErr == nil {
					waitErr = io.ErrUnexpectedEOF
				}
				return NewError(job.ErrorKindGenerator, fmt.Sprintf("subprocess exited without a result line: %v", waitErr))
			}
			var msg subprocessMessage
			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				continue
			}
			if msg.Progress != nil {
				_ = sink.Report(ctx, *msg.Progress)
				continue
			}
			if msg.OK != nil {
				_ = cmd.Wait()
				if *msg.OK {
					return nil
				}
				kind := job.ErrorKind(msg.Kind)
				if kind == "" {
					kind = job.ErrorKindGenerator
				}
				return NewError(kind, msg.Detail)
			}
		case <-ticker.C:
			if cancelSentAt.IsZero() && sink.IsCancelled(ctx) {
				cancelSentAt = time.Now()
				_ = enc.Encode(subprocessCommand{Cancel: true})
			}
			if !cancelSentAt.IsZero() && time.Since(cancelSentAt) > s.cancelGrace() {
				_ = cmd.Process.Kill()
				return NewError(job.ErrorKindCancelled, "generator did not stop within cancellation grace period")
			}
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return ctx.Err()
		}
	}
}
