package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/report"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate <responses-file>",
	Short: "Validate questionnaire responses against the question catalog",
	Long:  "Reads a YAML or JSON map of question code to answer and reports completion, missing answers and alerts. Exits non-zero when the questionnaire is not valid.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("validate"); err != nil {
			return err
		}

		responses, err := readResponses(args[0])
		if err != nil {
			return err
		}

		v, err := initValidator(cmd.Context())
		if err != nil {
			return err
		}
		res := v.Validate(responses)

		out := cmd.OutOrStdout()
		if validateJSON {
			err = writeJSON(out, res)
		} else {
			err = report.RenderValidation(out, res, reportOptions())
		}
		if err != nil {
			return err
		}
		if !res.IsValid() {
			cmd.SilenceUsage = true
			return eris.New("questionnaire is not valid")
		}
		return nil
	},
}

// readResponses decodes a responses file. JSON is a subset of YAML, so one
// decoder handles both. A document wrapped in a "responses" key is accepted.
func readResponses(path string) (model.Responses, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read responses")
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "parse responses")
	}
	if inner, ok := doc["responses"].(map[string]any); ok && len(doc) == 1 {
		doc = inner
	}

	responses := make(model.Responses, len(doc))
	for k, v := range doc {
		responses[k] = normalizeNumber(v)
	}
	return responses, nil
}

// normalizeNumber widens YAML integers to float64, the type JSON decoding
// produces, so both file formats validate the same.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return v
	}
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the validation result as JSON")
	rootCmd.AddCommand(validateCmd)
}
