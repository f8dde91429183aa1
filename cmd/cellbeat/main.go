package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cellbeat/cellbeat/cmd/cellbeat/at"
	"github.com/cellbeat/cellbeat/cmd/cellbeat/decode"
	"github.com/cellbeat/cellbeat/cmd/cellbeat/run"
	"github.com/cellbeat/cellbeat/cmd/cellbeat/subcmd"
	"github.com/cellbeat/cellbeat/internal/state"
	"github.com/cellbeat/cellbeat/internal/tele"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

var buildVersion = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	run.Mod,
	at.Mod,
	decode.Mod,
}

func main() {
	log := log2.NewStderr(log2.LInfo)
	log.SetFlags(log2.LStdFlags)
	if subcmd.SdNotify("start") {
		// under systemd journal, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	}

	flagset := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := flagset.String("config", "cellbeat.hcl", "")
	flagVersion := flagset.Bool("version", false, "print build version and exit")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "usage: %s [flags] [command]\ncommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintln(flagset.Output(), "flags:")
		flagset.PrintDefaults()
	}
	_ = flagset.Parse(os.Args[1:])
	if *flagVersion {
		fmt.Println(buildVersion)
		return
	}

	command := strings.TrimSpace(flagset.Arg(0))
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Fatal(err)
	}

	ctx, g := state.NewContext(log, tele.New())
	g.BuildVersion = buildVersion

	config := state.MustReadConfig(log, state.NewDirReader(), *flagConfig)
	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
