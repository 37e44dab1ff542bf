// Package prune shortens long message bodies for terminal display.
package prune

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxBytes  = 2 * 1024
	DefaultMaxLines  = 12
	DefaultHeadLines = 8
	DefaultTailLines = 2
)

// Config bounds a folded body. Zero values take the defaults.
type Config struct {
	MaxBytes  int
	MaxLines  int
	HeadLines int
	TailLines int
}

// Exceeds reports whether s is over either bound.
func Exceeds(s string, maxBytes, maxLines int) bool {
	return len(s) > maxBytes || CountLines(s) > maxLines
}

func CountLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// Fold keeps the first and last lines of a long body and replaces the middle
// with a marker naming how many lines were left out. The result never
// exceeds MaxBytes and never splits a rune.
func Fold(s string, cfg Config) string {
	cfg = normalizeConfig(cfg)
	if !Exceeds(s, cfg.MaxBytes, cfg.MaxLines) {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > cfg.MaxLines {
		head := lines[:cfg.HeadLines]
		tail := lines[len(lines)-cfg.TailLines:]
		omitted := len(lines) - len(head) - len(tail)
		folded := make([]string, 0, len(head)+len(tail)+1)
		folded = append(folded, head...)
		folded = append(folded, fmt.Sprintf("... (%d lines folded)", omitted))
		folded = append(folded, tail...)
		s = strings.Join(folded, "\n")
	}
	if len(s) > cfg.MaxBytes {
		const ellipsis = " ..."
		s = safeUTF8Prefix(s, cfg.MaxBytes-len(ellipsis)) + ellipsis
	}
	return s
}

func normalizeConfig(cfg Config) Config {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.HeadLines <= 0 {
		cfg.HeadLines = DefaultHeadLines
	}
	if cfg.TailLines < 0 {
		cfg.TailLines = 0
	}
	// Head, marker and tail must fit within MaxLines.
	if cfg.HeadLines+cfg.TailLines+1 > cfg.MaxLines {
		cfg.TailLines = 0
		cfg.HeadLines = cfg.MaxLines - 1
		if cfg.HeadLines < 1 {
			cfg.HeadLines = 1
		}
	}
	return cfg
}

func safeUTF8Prefix(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) == 0 {
		return ""
	}
	if maxBytes >= len(s) {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
