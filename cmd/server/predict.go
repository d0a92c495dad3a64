package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/asl-api/internal/model"
)

func predictCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify a single JPEG or PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.predict(cmd.OutOrStdout(), args[0])
		},
	}
}

func (a *app) predict(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	engine, prov, err := a.newEngine(nil)
	if err != nil {
		return err
	}
	defer a.release(prov)

	top, err := engine.ClassifyReader(f)
	if err != nil {
		return fmt.Errorf("cannot classify %s: %w", path, err)
	}
	return writePredictions(w, top)
}

// writePredictions prints the ranking as "1. A: 97.3%" lines.
func writePredictions(w io.Writer, top []model.Prediction) error {
	if _, err := fmt.Fprintf(w, "Top %d matches:\n", len(top)); err != nil {
		return err
	}
	for i, p := range top {
		if _, err := fmt.Fprintf(w, "%d. %s: %.1f%%\n", i+1, p.Label, p.Confidence); err != nil {
			return err
		}
	}
	return nil
}
