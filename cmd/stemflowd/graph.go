package main

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/warriorguo/stemflow/pipelines"
	"github.com/warriorguo/stemflow/runtime"
)

var (
	graphOut string

	graphCmd = &cobra.Command{
		Use:       "graph [audio|midi]",
		Short:     "Print a pipeline as Graphviz DOT",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"audio", "midi"},
		RunE:      runGraph,
	}
)

func init() {
	graphCmd.Flags().StringVarP(&graphOut, "out", "o", "", "write the DOT to this file instead of stdout")
}

func runGraph(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := newEngine(c)
	if err != nil {
		return err
	}
	defer e.Close(context.Background())

	var p *runtime.Pipeline
	switch args[0] {
	case pipelines.AudioPipelineName:
		p, err = e.Registry().Audio()
	default:
		p, err = e.Registry().Midi()
	}
	if err != nil {
		return errors.Trace(err)
	}

	dot := p.RenderDOT(nil)
	if graphOut == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), dot)
		return errors.Trace(err)
	}
	return errors.Trace(os.WriteFile(graphOut, []byte(dot), 0644))
}
