package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/resume"
	"github.com/spigell/hh-autopilot/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Manage the resumes used for scoring and cover letters",
}

var resumeImportCmd = &cobra.Command{
	Use:   "import <user> <file>",
	Short: "Store a resume from a .pdf, .docx, .txt or .md file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		userID, path := args[0], args[1]

		data, err := os.ReadFile(path)
		if err != nil {
			fatal("reading the resume", err)
		}
		text, err := resume.ExtractText(filepath.Base(path), data)
		if err != nil {
			fatal("extracting resume text", err)
		}

		withApp(false, func(ctx context.Context, a *application) error {
			if _, err := a.users.Get(ctx, userID); err != nil {
				return err
			}

			current, err := a.store.GetProfile(ctx, userID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			case current.ContentHash != resume.ContentHash(text):
				ok, err := confirm(fmt.Sprintf("Replace the current resume of %s?", userID), yes)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}

			changed, err := a.profiles.Import(ctx, userID, text)
			if err != nil {
				return err
			}
			a.logger.Info("resume imported",
				zap.String(logger.FieldUser, userID),
				zap.String("file", path),
				zap.Bool("changed", changed),
			)
			return nil
		})
	},
}

var resumeShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Print the features extracted from the current resume",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withApp(false, func(ctx context.Context, a *application) error {
			profile, err := a.profiles.Load(ctx, args[0])
			if err != nil {
				return err
			}
			printJSON(profile.Features)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.AddCommand(resumeImportCmd, resumeShowCmd)

	resumeImportCmd.Flags().BoolP("yes", "y", false, "replace the current resume without asking")
}
