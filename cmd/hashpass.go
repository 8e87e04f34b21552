package cmd

import (
	"fmt"
	"log"
	"syscall"

	"github.com/ksali86/riftlands-ai-dm/riftlands"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

// hashpassCmd generates the argon2id hash for the status API's manual
// sync password (api.admin_password_hash).
var hashpassCmd = &cobra.Command{
	Use:   "hashpass",
	Short: "Hash a password for use as the API admin password",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()

		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		var password string
		for {
			fmt.Fprint(out, "Enter password: ")
			passwordBytes, err := customPasswordReader()
			if err != nil {
				log.Fatalf("error reading password: %v", err)
			}
			password = string(passwordBytes)
			fmt.Fprintln(out)

			fmt.Fprint(out, "Confirm password: ")
			confirmBytes, err := customPasswordReader()
			if err != nil {
				log.Fatalf("error reading password: %v", err)
			}
			fmt.Fprintln(out)

			if password == string(confirmBytes) {
				break
			}
			fmt.Fprintln(out, "Passwords do not match. Try again.")
		}

		if password == "" {
			log.Fatal("password cannot be empty")
		}

		hash, err := riftlands.HashPassword(password)
		if err != nil {
			log.Fatalf("error hashing password: %v", err)
		}
		fmt.Fprintln(out, hash)
	},
}

func init() {
	rootCmd.AddCommand(hashpassCmd)
}
