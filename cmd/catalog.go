package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/questionnaire"
)

var catalogOut string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and publish the question catalog",
}

var catalogExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the active question catalog as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("validate"); err != nil {
			return err
		}

		v, err := initValidator(cmd.Context())
		if err != nil {
			return err
		}
		data, err := questionnaire.MarshalCatalog(v.Catalog())
		if err != nil {
			return err
		}

		if catalogOut == "" || catalogOut == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(catalogOut, data, 0o644); err != nil {
			return eris.Wrap(err, "write catalog")
		}
		zap.L().Info("catalog exported", zap.String("path", catalogOut))
		return nil
	},
}

var catalogPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the active question catalog to the Notion question database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Notion.Token == "" || cfg.Notion.QuestionDB == "" {
			return eris.New("notion.token and notion.question_db are required to publish")
		}
		if cfg.Questionnaire.Source == "notion" {
			return eris.New("the catalog already comes from notion")
		}

		v, err := initValidator(cmd.Context())
		if err != nil {
			return err
		}

		n, err := questionnaire.PublishNotionCatalog(cmd.Context(), newNotionClient(), cfg.Notion.QuestionDB, v.Catalog())
		zap.L().Info("catalog published", zap.Int("questions", n))
		return err
	},
}

func init() {
	catalogExportCmd.Flags().StringVarP(&catalogOut, "out", "o", "", "output file (default stdout)")
	catalogCmd.AddCommand(catalogExportCmd, catalogPublishCmd)
	rootCmd.AddCommand(catalogCmd)
}
