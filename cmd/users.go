package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/server"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the users the service applies for",
}

var usersAddCmd = &cobra.Command{
	Use:   "add <user>",
	Short: "Register a user; the user stays paused until hh.ru is connected",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		locale, _ := cmd.Flags().GetString("locale")
		withApp(false, func(ctx context.Context, a *application) error {
			user, err := a.users.Add(ctx, args[0], locale)
			if err != nil {
				return err
			}
			printJSON(user)
			return nil
		})
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		raw, _ := cmd.Flags().GetString("status")
		withApp(false, func(ctx context.Context, a *application) error {
			var status model.UserStatus
			if raw != "" {
				var err error
				if status, err = model.ParseUserStatus(raw); err != nil {
					return err
				}
			}

			list, err := a.users.List(ctx, status)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tLOCALE\tRESUME\tUPDATED")
			for _, u := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Status, u.Locale, u.ResumeID, u.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		})
	},
}

var usersPauseCmd = &cobra.Command{
	Use:   "pause <user>",
	Short: "Stop cycles for a user and cancel the running ones",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withApp(false, func(ctx context.Context, a *application) error {
			return a.users.Pause(ctx, args[0])
		})
	},
}

var usersActivateCmd = &cobra.Command{
	Use:   "activate <user>",
	Short: "Resume cycles for a user",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withApp(false, func(ctx context.Context, a *application) error {
			return a.users.Activate(ctx, args[0])
		})
	},
}

var usersRevokeCmd = &cobra.Command{
	Use:   "revoke <user>",
	Short: "Stop cycles for a user and forget the hh.ru credentials",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		ok, err := confirm(fmt.Sprintf("Revoke %s and drop the hh.ru token?", args[0]), yes)
		if err != nil {
			fatal("asking for confirmation", err)
		}
		if !ok {
			return
		}

		withApp(false, func(ctx context.Context, a *application) error {
			return a.users.Revoke(ctx, args[0])
		})
	},
}

var authURLCmd = &cobra.Command{
	Use:   "auth-url <user>",
	Short: "Print the hh.ru authorization link for a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		locale, _ := cmd.Flags().GetString("locale")
		signed, _ := cmd.Flags().GetBool("link")
		// The state must be visible to the serve process that receives the callback.
		withApp(!signed, func(ctx context.Context, a *application) error {
			if _, err := a.users.Add(ctx, args[0], locale); err != nil {
				return err
			}

			var (
				url string
				err error
			)
			if signed {
				// A signed link stays valid for server.link-ttl and issues a fresh state when opened.
				var opts server.Options
				if opts, err = a.serverOptions(); err != nil {
					return err
				}
				url, err = server.AuthorizeLink(opts, args[0])
			} else {
				url, err = a.oauth.AuthorizeURL(ctx, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(usersCmd, authURLCmd)
	usersCmd.AddCommand(usersAddCmd, usersListCmd, usersPauseCmd, usersActivateCmd, usersRevokeCmd)

	usersAddCmd.Flags().String("locale", "ru", "language of the cover letters (ru or en)")
	authURLCmd.Flags().String("locale", "ru", "language of the cover letters for a new user")
	authURLCmd.Flags().Bool("link", false, "print a signed link to this server's /hh/authorize instead of the hh.ru page")
	usersListCmd.Flags().String("status", "", "only users with this status (active, paused, revoked, reauth_required)")
	usersRevokeCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}

// withApp runs fn with the wired components and exits on failure.
func withApp(withRedis bool, fn func(ctx context.Context, a *application) error) {
	ctx := context.Background()

	a, err := setup(ctx, withRedis)
	if err != nil {
		fatal("starting the hh-autopilot", err)
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		a.logger.Fatal("exiting", zap.Error(err))
	}
}
