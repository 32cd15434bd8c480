package main

import (
	"fmt"
	"os"

	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(perrors.GetExitCode(err))
	}
}
