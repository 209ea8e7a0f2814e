// Package telemetry builds the run's structured logger: zerolog for the
// event model, lipgloss for a styled console writer, and lumberjack for
// optional rotated file output (adapted from pkg/x_log/style.go's
// zerolog.ConsoleWriter pattern, retargeted at this domain's fields —
// rank, gid, round — instead of the source's user/file/ip web fields).
package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Carbon-inspired palette, matching pkg/x_log/style.go's ColorXNN naming.
const (
	colorTeal40    = "#3ddbd9"
	colorBlue60    = "#4589ff"
	colorBlue40    = "#78a9ff"
	colorOrange40  = "#ff832b"
	colorRed60     = "#da1e28"
	colorRedStrong = "#ff0000"
	colorGray60    = "#8d8d8d"
	colorGray10    = "#f4f4f4"
)

// Options configures New.
type Options struct {
	Level      string // debug|info|warn|error
	JSON       bool   // plain JSON lines instead of the styled console writer
	Theme      string // "dark" (default) or "light" — reserved for future themes
	FilePath   string // optional rotated log file, empty disables it
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds the run's base logger. Every rank/block field a caller adds
// via .With() flows through the same styling, so `rank=3 round=7` reads
// consistently across every log line in a run.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer
	if opts.JSON {
		out = os.Stdout
	} else {
		out = styledConsoleWriter(os.Stdout)
	}

	if opts.FilePath != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		}
		out = io.MultiWriter(out, rotated)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// styledConsoleWriter builds a zerolog.ConsoleWriter styled with
// lipgloss, coloring the level badge and highlighting this domain's
// recurring field keys (rank, gid, round, block).
func styledConsoleWriter(w io.Writer) zerolog.ConsoleWriter {
	keyStyles := map[string]lipgloss.Style{
		"rank":  lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue40)),
		"gid":   lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue40)),
		"round": lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue40)),
		"block": lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue40)),
		"error": lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed60)),
	}
	defaultKey := lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray60))
	timestampStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray60)).Width(16)
	messageStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray10))

	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05.000",

		FormatLevel: func(i any) string {
			lvl := strings.ToLower(fmt.Sprint(i))
			color := colorGray60
			switch lvl {
			case "debug":
				color = colorTeal40
			case "info":
				color = colorBlue60
			case "warn":
				color = colorOrange40
			case "error":
				color = colorRed60
			case "fatal", "panic":
				color = colorRedStrong
			}
			badge := lvl
			if len(badge) > 3 {
				badge = badge[:3]
			}
			return lipgloss.NewStyle().
				Foreground(lipgloss.Color("#ffffff")).
				Background(lipgloss.Color(color)).
				Padding(0, 1).
				Render(strings.ToUpper(badge))
		},

		FormatTimestamp: func(i any) string {
			return timestampStyle.Render(fmt.Sprintf("[%s]", i))
		},

		FormatFieldName: func(i any) string {
			key := fmt.Sprint(i)
			style, ok := keyStyles[key]
			if !ok {
				style = defaultKey
			}
			eq := lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray60))
			return style.Render(key) + eq.Render("=")
		},

		FormatMessage: func(i any) string {
			return messageStyle.Render(fmt.Sprint(i))
		},
	}
}
