package cmdline

import "errors"

var errEmptyArgv = errors.New("cmdline: empty argv")
