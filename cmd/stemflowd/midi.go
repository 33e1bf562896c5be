package main

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warriorguo/stemflow/pipelines"
)

var midiCmd = &cobra.Command{
	Use:   "midi <sessionId> <stem>",
	Short: "Synthesize the MIDI file of one separated stem",
	Args:  cobra.ExactArgs(2),
	RunE:  runMidi,
}

func runMidi(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := newEngine(c)
	if err != nil {
		return err
	}
	defer e.Close(context.Background())

	path, err := e.RunMidi(cmd.Context(), pipelines.MidiInput{SessionID: args[0], StemName: args[1]})
	if err != nil {
		return errors.Trace(err)
	}
	log.WithField("session_id", args[0]).Infof("midi for %s written", args[1])
	_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
	return errors.Trace(err)
}
