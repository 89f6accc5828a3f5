package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/jobrelay/internal/timefmt"
)

var timeZone string

// timeCmd groups the time notation helpers.
var timeCmd = &cobra.Command{
	Use:   "time",
	Short: "Convert job time notations",
	Long: `Convert between the time notations accepted in job definitions and
epoch milliseconds. Absolute times use YYYYMMDDHHMMSS, relative ones
[Nh][Nm][Ns].`,
}

var timeAbsCmd = &cobra.Command{
	Use:   "abs <YYYYMMDDHHMMSS>",
	Short: "Convert an absolute time to epoch milliseconds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := timeLocation()
		if err != nil {
			return err
		}
		ms, err := timefmt.ParseAbsoluteIn(args[0], loc)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ms)
		return nil
	},
}

var timeInCmd = &cobra.Command{
	Use:   "in <duration>",
	Short: "Print the fire time of a relative duration from now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := timeLocation()
		if err != nil {
			return err
		}
		ms, err := timefmt.FutureFromDuration(args[0], time.Now().UnixMilli())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", ms, timefmt.FormatAbsoluteIn(ms, loc))
		return nil
	},
}

var timeFmtCmd = &cobra.Command{
	Use:   "fmt <epoch-ms>",
	Short: "Render epoch milliseconds as YYYYMMDDHHMMSS",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := timeLocation()
		if err != nil {
			return err
		}
		ms, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid epoch milliseconds %q", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), timefmt.FormatAbsoluteIn(ms, loc))
		return nil
	},
}

func timeLocation() (*time.Location, error) {
	if timeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", timeZone, err)
	}
	return loc, nil
}

func init() {
	timeCmd.PersistentFlags().StringVar(&timeZone, "tz", "", "IANA time zone, defaults to local time")
	timeCmd.AddCommand(timeAbsCmd)
	timeCmd.AddCommand(timeInCmd)
	timeCmd.AddCommand(timeFmtCmd)
}
