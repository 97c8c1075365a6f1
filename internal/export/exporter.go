// Package export renders collected timeline records as a CSV of account
// transactions for Portfolio Performance.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/events"
	"github.com/aristath/tradelog/internal/locale"
	"github.com/aristath/tradelog/internal/timeline"
)

// ParseError reports an input file that cannot be read or is not a JSON array
// of objects
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errNotAnArray = errors.New("input is not a JSON array")

// Options describes one export run
type Options struct {
	InputPath  string
	OutputPath string
	Language   string // language code or locale.Auto
	Sort       bool   // order events by date, oldest first
}

// Result summarizes an export run
type Result struct {
	Language locale.Language
	Events   int // records read
	Lines    int // transaction lines written
}

// Exporter converts a timeline JSON file into a CSV file
type Exporter struct {
	log          zerolog.Logger
	systemLocale func() string
}

// NewExporter creates an exporter that resolves "auto" from the process environment
func NewExporter(log zerolog.Logger) *Exporter {
	return &Exporter{
		log: log.With().Str("component", "exporter").Logger(),
		systemLocale: func() string {
			return locale.SystemLocale(os.LookupEnv)
		},
	}
}

// WithSystemLocale overrides how the system locale is determined
func (e *Exporter) WithSystemLocale(fn func() string) *Exporter {
	e.systemLocale = fn
	return e
}

// ResolveLanguage resolves a requested language, reporting unsupported ones
func (e *Exporter) ResolveLanguage(requested string) locale.Language {
	lang, ok := locale.ResolveLanguage(requested, e.systemLocale())
	if !ok {
		e.log.Info().Str("requested", requested).Str("using", string(lang)).Msg("Language not yet supported")
	}
	return lang
}

// Export reads opts.InputPath, renders it and writes opts.OutputPath.
// The output is only written once the whole document has been rendered, so a
// failing run leaves any existing output untouched.
func (e *Exporter) Export(opts Options) (*Result, error) {
	lang := e.ResolveLanguage(opts.Language)

	e.log.Info().
		Str("input", opts.InputPath).
		Str("output", opts.OutputPath).
		Str("language", string(lang)).
		Bool("sort", opts.Sort).
		Msg("Writing account transactions")

	evts, err := LoadEvents(opts.InputPath)
	if err != nil {
		return nil, err
	}

	if opts.Sort {
		SortByDate(evts)
	}

	formatter := NewCSVFormatter(lang)
	document, lines := render(formatter, evts)

	if err := timeline.WriteAtomic(opts.OutputPath, []byte(document)); err != nil {
		return nil, err
	}

	e.log.Info().
		Int("events", len(evts)).
		Int("lines", lines).
		Str("output", opts.OutputPath).
		Msg("Account transactions export finished")

	return &Result{Language: lang, Events: len(evts), Lines: lines}, nil
}

// LoadEvents reads a JSON array of timeline records and deserializes each one
func LoadEvents(path string) ([]*events.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	// null decodes into a nil slice without error
	if records == nil {
		return nil, &ParseError{Path: path, Err: errNotAnArray}
	}

	evts := make([]*events.Event, 0, len(records))
	for i, raw := range records {
		event, err := events.FromJSON(raw)
		if err != nil {
			return nil, &events.DeserializationError{Index: i, Err: err}
		}
		evts = append(evts, event)
	}
	return evts, nil
}

// SortByDate orders events oldest first, keeping the input order of equal dates
func SortByDate(evts []*events.Event) {
	sort.SliceStable(evts, func(i, j int) bool {
		return evts[i].Date.Before(evts[j].Date)
	})
}

// Render returns the CSV document for evts in the given language
func Render(evts []*events.Event, lang locale.Language) string {
	document, _ := render(NewCSVFormatter(lang), evts)
	return document
}

func render(formatter *CSVFormatter, evts []*events.Event) (string, int) {
	var b strings.Builder
	b.WriteString(formatter.FormatHeader())

	lines := 0
	for _, event := range evts {
		line := formatter.Format(event)
		if line == "" {
			continue
		}
		b.WriteString(line)
		lines++
	}
	return b.String(), lines
}
