// Package logging configures the process-wide slog logger for sourcecolon.
// Records go to a size-rotated JSON file under ~/.sourcecolon/logs/ and,
// optionally, to stderr: as text when stderr is a terminal, as JSON otherwise.
package logging
