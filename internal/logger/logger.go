package logger

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

var levelColors = map[log.Level]string{
	log.DebugLevel: "63",
	log.InfoLevel:  "86",
	log.WarnLevel:  "192",
	log.ErrorLevel: "204",
	log.FatalLevel: "134",
}

// Init initializes the logger
func Init(debug, noColor bool) {
	log.SetDefault(New(os.Stderr, noColor))

	log.SetLevel(log.InfoLevel)
	if debug {
		log.SetLevel(log.DebugLevel)
	}
}

// New returns a logger with the CLI's prefix and level badges.
func New(w io.Writer, noColor bool) *log.Logger {
	l := log.NewWithOptions(w,
		log.Options{
			ReportCaller:    true,
			ReportTimestamp: false,
			TimeFormat:      time.RFC3339,
			Prefix:          "MIRE",
		})

	styles := log.DefaultStyles()
	for lvl, c := range levelColors {
		styles.Levels[lvl] = lipgloss.NewStyle().
			SetString(lvl.String()).
			Bold(true).
			Padding(0, 1).
			Background(lipgloss.Color(c)).
			Foreground(lipgloss.Color("0"))
	}
	l.SetStyles(styles)

	l.SetColorProfile(termenv.ANSI256)
	if noColor {
		l.SetColorProfile(termenv.Ascii)
	}
	return l
}
