package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simplebox/pkg/storage"
)

// NewCredsCommand creates the creds command
func NewCredsCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "creds",
		Short: "Show the credential state of each service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := openBox(cmd, open)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tSTATE\tEXPIRES\tROLE")
			for _, s := range box.Credentials.Status() {
				expires := "-"
				if !s.ExpiresAt.IsZero() {
					expires = s.ExpiresAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Service, s.State, expires, s.RoleARN)
			}
			return tw.Flush()
		},
	}
}

// NewListCommand creates the ls command
func NewListCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List object keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			box, err := openBox(cmd, open)
			if err != nil {
				return err
			}

			keys, err := box.Store.List(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("list failed: %w", err)
			}
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

// NewUploadCommand creates the upload command
func NewUploadCommand(open Opener) *cobra.Command {
	var key string
	var mimeType string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file",
		Long:  `Upload a file to the bucket. The key defaults to the file name.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath := args[0]

			file, err := os.Open(filePath)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer file.Close()

			if key == "" {
				key = filepath.Base(filePath)
			}

			box, err := openBox(cmd, open)
			if err != nil {
				return err
			}

			err = box.Store.UploadWithParams(cmd.Context(), file, storage.UploadParams{
				ObjectKey: key,
				MimeType:  mimeType,
			})
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s\n", key)
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "object key (default: file name)")
	cmd.Flags().StringVar(&mimeType, "content-type", "", "content type of the object")

	return cmd
}

// NewDeleteCommand creates the rm command
func NewDeleteCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := openBox(cmd, open)
			if err != nil {
				return err
			}

			if err := box.Store.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

// NewURLCommand creates the url command
func NewURLCommand(open Opener) *cobra.Command {
	var filename string
	var upload bool

	cmd := &cobra.Command{
		Use:   "url <key>",
		Short: "Print a presigned URL for an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := openBox(cmd, open)
			if err != nil {
				return err
			}

			var url string
			if upload {
				url, err = box.Store.GetUploadURL(cmd.Context(), args[0])
			} else {
				url, err = box.Store.GetDownloadURL(cmd.Context(), args[0], filename)
			}
			if err != nil {
				return fmt.Errorf("failed to get URL: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}

	cmd.Flags().StringVar(&filename, "filename", "", "file name suggested to the downloader")
	cmd.Flags().BoolVar(&upload, "upload", false, "print an upload URL instead of a download URL")

	return cmd
}

// NewEnqueueCommand creates the enqueue command
func NewEnqueueCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <json>",
		Short: "Send a JSON job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := openBox(cmd, open)
			if err != nil {
				return err
			}

			receipt, err := box.Jobs.EnqueueRaw(cmd.Context(), []byte(args[0]))
			if err != nil {
				return fmt.Errorf("enqueue failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(receipt)
		},
	}
}
