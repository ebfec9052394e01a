package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	svix "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/leadforge/leadforge/internal/service"
	"github.com/leadforge/leadforge/pkg/crypto"
)

func newSignCmd() *cobra.Command {
	var (
		secret      string
		payloadFile string
		deliveryID  string
		timestamp   int64
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the signature headers a delivery of the payload would carry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret is required")
			}
			body, err := readInput(cmd, payloadFile)
			if err != nil {
				return err
			}
			if deliveryID == "" {
				deliveryID = uuid.NewString()
			}
			at := time.Now()
			if timestamp > 0 {
				at = time.Unix(timestamp, 0)
			}

			wh, err := svix.NewWebhookRaw([]byte(secret))
			if err != nil {
				return fmt.Errorf("create signer: %w", err)
			}
			standard, err := wh.Sign(deliveryID, at, body)
			if err != nil {
				return fmt.Errorf("sign payload: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", service.HeaderSignature, crypto.SignPayload(body, secret))
			fmt.Fprintf(out, "webhook-id: %s\n", deliveryID)
			fmt.Fprintf(out, "webhook-timestamp: %s\n", strconv.FormatInt(at.Unix(), 10))
			fmt.Fprintf(out, "webhook-signature: %s\n", standard)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "webhook secret")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "-", "payload file, - for stdin")
	cmd.Flags().StringVar(&deliveryID, "id", "", "delivery id for the standard signature (default: random)")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "unix timestamp for the standard signature (default: now)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		secret      string
		signature   string
		payloadFile string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an " + service.HeaderSignature + " value against a payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" || signature == "" {
				return errors.New("--secret and --signature are required")
			}
			body, err := readInput(cmd, payloadFile)
			if err != nil {
				return err
			}
			if !crypto.VerifySignature(body, secret, signature) {
				return errors.New("signature does not match")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signature valid")
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "webhook secret")
	cmd.Flags().StringVar(&signature, "signature", "", "hex signature to check")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "-", "payload file, - for stdin")
	return cmd
}

func newSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Generate a new webhook secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := crypto.GenerateSecret(crypto.SecretBytes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}
