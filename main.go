package main

import (
	"os"

	midi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/midicatdrv"

	"github.com/jdginn/antidrift/cli"
)

func main() {
	err := cli.Execute()
	midi.CloseDriver()
	if err != nil {
		os.Exit(1)
	}
}
