package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/sociallyhq/socially/internal/daemon"
	"github.com/sociallyhq/socially/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := session.Resolve(*profileFlag)
	if err := session.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName}),
	)

	app.Run()
}
