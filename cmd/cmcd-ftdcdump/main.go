// Command cmcd-ftdcdump prints a diagnostic data file written by
// "cmcd --ftdc-prefix" as CSV.
package main

import (
	"context"
	"os"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/wikimedia/cmcd/ftdc"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	grip.GetSender().SetLevel(send.LevelInfo{Default: level.Info, Threshold: level.Info})

	var path string
	pflag.StringVar(&path, "path", "", "dump ftdc data from this file")
	pflag.Parse()

	if path == "" {
		grip.EmergencyFatal("path is not specified")
	}

	f, err := os.Open(path)
	if err != nil {
		grip.EmergencyFatal(errors.Wrapf(err, "problem opening file '%s'", path))
	}
	defer f.Close()

	grip.EmergencyFatal(message.WrapError(ftdc.WriteCSV(ctx, ftdc.ReadChunks(f), os.Stdout), message.Fields{
		"message": "problem dumping diagnostic data",
		"path":    path,
	}))
}
