package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"exoweb/internal/engine"
	"exoweb/internal/metadata"
	"exoweb/internal/model"
)

var checkCmd = &cobra.Command{
	Use:   "check <definitions>",
	Short: "Validate a definitions file by building a model from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := metadata.LoadFile(args[0])
		if err != nil {
			return err
		}
		log := logrus.New()
		log.SetLevel(logrus.WarnLevel)
		log.SetOutput(cmd.ErrOrStderr())

		res, err := engine.Build(model.New(model.WithLogger(logrus.NewEntry(log))), defs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d types, %d calculated properties, %d rules\n",
			args[0], len(res.Types), len(res.Calculated), len(res.Rules))
		return nil
	},
}
