package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/leadforge/leadforge/pkg/formula"
)

func newValidateCmd() *cobra.Command {
	var transform bool

	cmd := &cobra.Command{
		Use:   "validate <formula>",
		Short: "Parse a formula and check its function calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := formula.Validate(args[0])
			if transform {
				result = formula.ValidateTransform(args[0])
			}
			if !result.Valid {
				return fmt.Errorf("invalid: %s", result.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&transform, "transform", false, "check a webhook transform script instead of a column formula")
	return cmd
}

func newEvalCmd() *cobra.Command {
	var contextFile string

	cmd := &cobra.Command{
		Use:   "eval <formula>",
		Short: "Evaluate a formula against a JSON lead and print the JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]interface{}{}
			if contextFile != "" {
				raw, err := readInput(cmd, contextFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &data); err != nil {
					return fmt.Errorf("context must be a JSON object: %w", err)
				}
			}

			node, err := formula.Compile(args[0])
			if err != nil {
				return err
			}
			value, err := formula.Evaluate(node, data)
			if err != nil {
				return err
			}

			out, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&contextFile, "context-file", "", "JSON file with the lead fields, - for stdin")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var (
		path        string
		payloadFile string
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Preview the value a payload path resolves to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				return errors.New("--path is required")
			}
			body, err := readInput(cmd, payloadFile)
			if err != nil {
				return err
			}
			if !gjson.ValidBytes(body) {
				return errors.New("payload is not valid JSON")
			}

			result := gjson.GetBytes(body, path)
			if !result.Exists() {
				return fmt.Errorf("path %q not found", path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Raw)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "dotted path, e.g. lead.company.name")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "-", "payload file, - for stdin")
	return cmd
}
