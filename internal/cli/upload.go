package cli

import (
	"fmt"
	"os"
	"strings"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/config"
	"exam-prep-service/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewUploadCmd bulk-loads questions from a CSV file into the configured backend.
func NewUploadCmd(configPath *string) *cobra.Command {
	var file, source, owner string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Bulk upload questions from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := domain.SourceType(strings.ToLower(source))
			if !st.Valid() {
				return fmt.Errorf("unknown source %q (want mock_test, pyq or book)", source)
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := app.ParseQuestionsCSV(f)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("%s has no question rows", file)
			}

			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}
			stack, err := buildStack(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer stack.Close()

			ownerID := owner
			for _, acc := range stack.provider.Accounts() {
				if strings.EqualFold(acc.Email, owner) {
					ownerID = acc.ID
				}
			}

			res := stack.catalog.UploadBulkQuestions(cmd.Context(), rows, st, ownerID)
			log.Info().
				Str("file", file).
				Str("source", string(st)).
				Int("success", res.Success).
				Int("failed", res.Failed).
				Msg("bulk upload finished")
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d questions, %d failed\n", res.Success, res.Failed)
			if res.Success == 0 {
				return fmt.Errorf("no questions were stored")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file with a header row")
	cmd.Flags().StringVar(&source, "source", string(domain.SourcePYQ), "question source: mock_test, pyq or book")
	cmd.Flags().StringVar(&owner, "owner", "admin@example.com", "admin email or id recorded as creator")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
