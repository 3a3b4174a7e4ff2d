/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

// Exit codes: 0 success, 2 configuration error, 3 upstream unavailable,
// 4 partial success with recorded errors.
const (
	exitOK       = 0
	exitConfig   = 2
	exitUpstream = 3
	exitPartial  = 4
)

// errPartial is returned by commands whose run completed with per-source
// errors recorded in the snapshot.
var errPartial = errors.New("completed with errors")

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ce *domain.ConfigError
	switch {
	case errors.Is(err, errPartial):
		return exitPartial
	case errors.As(err, &ce):
		return exitConfig
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrNetwork),
		errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotFound):
		return exitUpstream
	default:
		return 1
	}
}

// fail prints remediation guidance when the error kind has one.
func fail(err error) error {
	if hint := domain.Remediation(err); hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
	}
	return err
}
