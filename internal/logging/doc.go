// Package logging sets up structured slog output for amanrag.
//
// By default only warnings and errors reach stderr as text. With --debug the
// CLI writes JSON records to ~/.amanrag/logs/amanrag.log, rotating by size.
package logging
