package console

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/famish99/os2lbridge/internal/bridge"
)

var spinner = [4]string{"|", "/", "-", `\`}

// StatusLine rewrites a single status line in place
type StatusLine struct {
	w        io.Writer
	enabled  bool
	step     int
	rendered bool
}

// NewStatusLine writes to f, and only when f is a terminal
func NewStatusLine(f *os.File) *StatusLine {
	fd := f.Fd()
	return &StatusLine{w: f, enabled: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)}
}

// Enabled reports whether Render writes anything
func (s *StatusLine) Enabled() bool {
	return s.enabled
}

// Render advances the spinner and redraws the line
func (s *StatusLine) Render(st bridge.Status) {
	if !s.enabled {
		return
	}
	s.step = (s.step + 1) % len(spinner)
	io.WriteString(s.w, FormatStatus(s.step, st))
	s.rendered = true
}

// Finish moves past the status line so later output starts on a fresh line
func (s *StatusLine) Finish() {
	if s.rendered {
		io.WriteString(s.w, "\n")
		s.rendered = false
	}
}

// FormatStatus builds the status line for spinner position step
func FormatStatus(step int, st bridge.Status) string {
	secs := st.TimeMillis / 1000
	return fmt.Sprintf("\rRunning %s [%02d:%02d]  Deck %d  Frq: %3dHz  Master title: %s",
		spinner[step%len(spinner)],
		secs/60,
		secs%60,
		st.MasterDeck,
		int(st.Rate),
		st.Track.Title,
	)
}
