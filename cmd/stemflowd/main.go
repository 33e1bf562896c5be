package main

import (
	"os"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warriorguo/stemflow"
	"github.com/warriorguo/stemflow/config"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:          "stemflowd",
		Short:        "Audio analysis, stem separation and MIDI synthesis service",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(midiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("%v", errors.ErrorStack(err))
		os.Exit(1)
	}
}

var _ sessionAPI = &stemflow.Engine{}

// loadConfig reads --config, an unset flag runs on defaults.
func loadConfig() (*config.Config, error) {
	c := config.Default()
	if configPath != "" {
		var err error
		if c, err = config.Load(configPath); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if err := c.Log.Apply(); err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}

func newEngine(c *config.Config) (*stemflow.Engine, error) {
	e, err := stemflow.NewEngine(c.Options()...)
	return e, errors.Trace(err)
}
