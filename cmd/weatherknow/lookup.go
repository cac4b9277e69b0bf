package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/weather-know/internal/fetch"
	"github.com/kjstillabower/weather-know/internal/models"
	"github.com/kjstillabower/weather-know/internal/tui"
)

// printFunc writes one lookup result.
type printFunc func(w io.Writer, res fetch.Result) error

func newLookupCmd(kind, short string, printResult printFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind + " <city>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				_ = a.Close()
				_ = logger.Sync()
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.Config.RequestTimeout)
			defer cancel()
			res, err := a.Coordinator.Fetch(ctx, models.Kind(kind), strings.Join(args, " "))
			if err != nil {
				return userError(err)
			}
			if flagJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "print the raw JSON result")
	return cmd
}

// userError replaces a classified failure with its user-facing message.
func userError(err error) error {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return errors.New(fe.Message())
	}
	return err
}

func printJSON(w io.Writer, res fetch.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Data)
}

func lookupWeather(w io.Writer, res fetch.Result) error {
	snap, err := res.Weather()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tui.RenderWeather(snap))
	return err
}

func lookupForecast(w io.Writer, res fetch.Result) error {
	days, err := res.Forecast()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tui.RenderForecast(res.City, days, time.Local, 100))
	return err
}
