package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/spigell/hh-autopilot/internal/store"
)

type userStatus struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	ResumeID       string     `json:"hh_resume_id,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	ResumeHash     string     `json:"resume_hash,omitempty"`
	AnalyzedAt     *time.Time `json:"analyzed_at,omitempty"`
	Sent           int        `json:"sent"`
}

var statusCmd = &cobra.Command{
	Use:   "status <user>",
	Short: "Show the token, resume and response counters of a user",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withApp(false, func(ctx context.Context, a *application) error {
			user, err := a.users.Get(ctx, args[0])
			if err != nil {
				return err
			}
			out := userStatus{ID: user.ID, Status: string(user.Status), ResumeID: user.ResumeID}

			token, err := a.store.GetToken(ctx, user.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			default:
				out.TokenExpiresAt = &token.ExpiresAt
			}

			profile, err := a.store.GetProfile(ctx, user.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			default:
				out.ResumeHash = profile.ContentHash
				if !profile.AnalyzedAt.IsZero() {
					out.AnalyzedAt = &profile.AnalyzedAt
				}
			}

			if out.Sent, err = a.store.CountSent(ctx, user.ID); err != nil {
				return err
			}

			printJSON(out)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
