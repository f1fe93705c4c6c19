package app

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/intermernet/finishline/internal/auth"
	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/timecodec"
)

// Admin commands print the acknowledgement only. The ranked result of a
// command is whatever the push channel delivers to 'finishline watch'.

var addCmd = &cobra.Command{
	Use:   "add BIB",
	Short: "Report a finish",
	Long: `Report a finish for BIB. If BIB already finished its time is updated.
Use --time for an official's reading or --now to take the authority's race clock.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		draft := finisher.Draft{BibNumber: args[0]}
		draft.RacerName, _ = flags.GetString("name")
		draft.FinishTime, _ = flags.GetString("time")
		draft.Gender, _ = flags.GetString("gender")
		draft.Team, _ = flags.GetString("team")
		if now, _ := flags.GetBool("now"); now {
			if draft.FinishTime != "" {
				return fmt.Errorf("--now and --time are mutually exclusive")
			}
			wall := float64(time.Now().UnixNano()) / float64(time.Second)
			draft.WallClockTime = &wall
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		rec, err := client.Create(cmd.Context(), draft)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Accepted: finisher %s (bib %s)\n", rec.ID, rec.BibNumber)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change a finisher",
	Long:  `Change a finisher. Only the flags given are sent.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		if _, err := client.Update(cmd.Context(), args[0], patch); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Accepted: finisher %s updated\n", args[0])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove a finisher",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Accepted: finisher %s deleted\n", args[0])
		return nil
	},
}

var reorderCmd = &cobra.Command{
	Use:   "reorder ID...",
	Short: "Persist a manual finishing order",
	Long: `Persist a manual finishing order. Every current finisher id must be given
exactly once, first place first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Reorder(cmd.Context(), args); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Accepted: %d finishers reordered\n", len(args))
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the admin password for a token",
	Long: `Exchange the admin password for a token. The password is read from
--password or, when absent, from the first line of standard input. Export the
printed token as FINISHLINE_TOKEN for later admin commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		token, err := client.Login(cmd.Context(), password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var clockCmd = &cobra.Command{
	Use:   "clock status|start|stop|reset|edit [MM:SS.cc]",
	Short: "Read or drive the race clock",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		var st raceclock.State
		switch action := args[0]; action {
		case "status":
			st, err = client.ClockStatus(cmd.Context())
		case "edit":
			if len(args) != 2 {
				return fmt.Errorf("clock edit needs a time, e.g. 05:21.35")
			}
			st, err = client.EditClock(cmd.Context(), args[1])
		default:
			st, err = client.Clock(cmd.Context(), action)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Clock %s, reads %s\n", st.Status, timecodec.Format(max(st.ElapsedAt(time.Now()), 0)))
		return nil
	},
}

var rosterCmd = &cobra.Command{
	Use:   "roster FILE.csv",
	Short: "Upload a start list",
	Long: `Upload a start list. The CSV needs bibNumber and racerName columns and may
carry gender and team.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		client, err := newClient()
		if err != nil {
			return err
		}
		summary, err := client.UploadRoster(cmd.Context(), f.Name(), f)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Accepted: %d added, %d updated\n", summary.Added, summary.Updated)
		for _, e := range summary.Errors {
			fmt.Fprintf(out, "  skipped: %s\n", e)
		}
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password PASSWORD",
	Short: "Print an ADMIN_PASSWORD_HASH for the authority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	addCmd.Flags().String("name", "", "Racer name")
	addCmd.Flags().String("time", "", "Finish time as MM:SS.cc")
	addCmd.Flags().Bool("now", false, "Finish now by the authority's race clock")
	addCmd.Flags().String("gender", "", "Gender category")
	addCmd.Flags().String("team", "", "Team")

	editCmd.Flags().String("bib", "", "New bib number")
	editCmd.Flags().String("name", "", "Racer name")
	editCmd.Flags().String("time", "", "Finish time as MM:SS.cc")
	editCmd.Flags().Bool("clear-time", false, "Remove the finish time")
	editCmd.Flags().String("gender", "", "Gender category")
	editCmd.Flags().String("team", "", "Team")

	loginCmd.Flags().String("password", "", "Admin password")
}

// patchFromFlags sends only the flags the user actually set, so an explicit
// empty --team clears the team while an absent one leaves it alone.
func patchFromFlags(cmd *cobra.Command) (finisher.Patch, error) {
	flags := cmd.Flags()
	var patch finisher.Patch
	for name, dst := range map[string]**string{
		"bib":    &patch.BibNumber,
		"name":   &patch.RacerName,
		"time":   &patch.FinishTime,
		"gender": &patch.Gender,
		"team":   &patch.Team,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return patch, err
		}
		*dst = &v
	}
	patch.ClearFinishTime, _ = flags.GetBool("clear-time")
	return patch, nil
}
