package color

import (
	"fmt"
	"strings"

	"github.com/muesli/termenv"
)

// Color is an ANSI palette index as understood by termenv.
type Color string

const (
	Red     Color = "1"
	Green   Color = "2"
	Yellow  Color = "3"
	Blue    Color = "4"
	Magenta Color = "5"
	Cyan    Color = "6"
	White   Color = "7"
	Gray    Color = "8"

	BrightRed     Color = "9"
	BrightGreen   Color = "10"
	BrightYellow  Color = "11"
	BrightBlue    Color = "12"
	BrightMagenta Color = "13"
	BrightCyan    Color = "14"
	BrightWhite   Color = "15"
)

var (
	colorEnabled = true
	profile      = termenv.ANSI256
)

func init() {
	p := termenv.EnvColorProfile()
	if p == termenv.Ascii {
		colorEnabled = false
		return
	}
	profile = p
}

func EnableColor(enable bool) {
	colorEnabled = enable
}

func IsColorEnabled() bool {
	return colorEnabled
}

func Colorize(c Color, text string) string {
	if !colorEnabled {
		return text
	}
	return profile.String(text).Foreground(profile.Color(string(c))).String()
}

func RedText(text string) string {
	return Colorize(Red, text)
}

func BrightRedText(text string) string {
	return Colorize(BrightRed, text)
}

func GreenText(text string) string {
	return Colorize(Green, text)
}

func YellowText(text string) string {
	return Colorize(Yellow, text)
}

func BlueText(text string) string {
	return Colorize(Blue, text)
}

func MagentaText(text string) string {
	return Colorize(Magenta, text)
}

func CyanText(text string) string {
	return Colorize(Cyan, text)
}

func GrayText(text string) string {
	return Colorize(Gray, text)
}

func BoldText(text string) string {
	if !colorEnabled {
		return text
	}
	return profile.String(text).Bold().String()
}

func Error(message string) string {
	if !colorEnabled {
		return message
	}
	return BrightRedText("Error: ") + message
}

func Warning(message string) string {
	if !colorEnabled {
		return message
	}
	return YellowText("Warning: ") + message
}

func Info(message string) string {
	if !colorEnabled {
		return message
	}
	return BlueText("Info: ") + message
}

func Success(message string) string {
	if !colorEnabled {
		return message
	}
	return GreenText("Success: ") + message
}

func Position(pos string) string {
	if !colorEnabled {
		return pos
	}
	return CyanText(pos)
}

func Code(code string) string {
	if !colorEnabled {
		return code
	}
	return GrayText(code)
}

// Diagnostic renders an error raised at pos, tagged with its kind, followed
// by one indented line per note.
func Diagnostic(pos, kind, message string, notes []string) string {
	var sb strings.Builder
	if !colorEnabled {
		fmt.Fprintf(&sb, "error[%s] at %s: %s", kind, pos, message)
	} else {
		fmt.Fprintf(&sb, "%s at %s: %s",
			BrightRedText(BoldText("error["+kind+"]")),
			Position(pos),
			message)
	}
	for _, n := range notes {
		sb.WriteString("\n  ")
		sb.WriteString(Code(n))
	}
	return sb.String()
}
