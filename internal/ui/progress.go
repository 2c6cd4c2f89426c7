package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// ProgressFunc shows activity for a long running step. The returned function
// ends the display.
type ProgressFunc func(description string) (stop func())

// NoProgress shows nothing
func NoProgress(string) func() {
	return func() {}
}

// Spinner returns a ProgressFunc rendering an indeterminate spinner to w
func Spinner(w io.Writer) ProgressFunc {
	return func(description string) func() {
		s := StartSpinner(w, description)
		return s.Stop
	}
}

// SpinnerBar wraps the progressbar library with our styling for steps whose
// size is unknown
type SpinnerBar struct {
	bar  *progressbar.ProgressBar
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// StartSpinner starts a spinner that animates until Stop is called
func StartSpinner(w io.Writer, description string) *SpinnerBar {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(true),
	)

	s := &SpinnerBar{
		bar:  bar,
		done: make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.bar.Add(1)
			}
		}
	}()

	return s
}

// Stop ends the animation and clears the line. It is safe to call twice.
func (s *SpinnerBar) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.bar.Finish()
	})
}

// SetColor enables or disables colored output globally
func SetColor(enabled bool) {
	color.NoColor = !enabled
}

var (
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
)

// Success prints a success line
func Success(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, successColor.Sprintf(format, args...))
}

// Failure prints a failure line
func Failure(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, failureColor.Sprintf(format, args...))
}

// Warning prints a warning line
func Warning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, warningColor.Sprintf(format, args...))
}

// FormatBytes formats bytes into human readable format
func FormatBytes(bytes int64) string {
	return units.BytesSize(float64(bytes))
}

// FormatDuration formats duration into human readable format
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
