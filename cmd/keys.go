package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/biocrypt"
	"github.com/kozaktomas/facegate/internal/config"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Template key and hashing utilities",
}

var keysCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify FACEGATE_PASSPHRASE against the stored hash",
	Long: `Check that the configured passphrase unlocks the template key. On a fresh
store this initializes the salt and the passphrase hash.`,
	Args: cobra.NoArgs,
	RunE: runKeysCheck,
}

var keysHashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print the SHA-256 digest recorded for captured frames",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKeysHash,
}

var keysPassphraseHashCmd = &cobra.Command{
	Use:   "passphrase-hash",
	Short: "Print a bcrypt hash of FACEGATE_PASSPHRASE",
	Args:  cobra.NoArgs,
	RunE:  runKeysPassphraseHash,
}

var keysVerifyCmd = &cobra.Command{
	Use:   "verify <bcrypt-hash>",
	Short: "Check FACEGATE_PASSPHRASE against a bcrypt hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysVerify,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCheckCmd, keysHashCmd, keysPassphraseHashCmd, keysVerifyCmd)
}

func runKeysCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	_, initialized, err := a.store.GetConfig(ctx, biocrypt.PassphraseHashConfigKey)
	if err != nil {
		return err
	}
	if _, err := biocrypt.LoadSealer(ctx, a.store, a.cfg.Crypto.Passphrase); err != nil {
		return err
	}
	if initialized {
		fmt.Println("Passphrase OK")
	} else {
		fmt.Println("Template key initialized")
	}
	return nil
}

func runKeysPassphraseHash(_ *cobra.Command, _ []string) error {
	hash, err := biocrypt.HashPassphrase(config.Load().Crypto.Passphrase)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runKeysVerify(_ *cobra.Command, args []string) error {
	if err := biocrypt.VerifyPassphrase(config.Load().Crypto.Passphrase, args[0]); err != nil {
		return err
	}
	fmt.Println("Passphrase matches")
	return nil
}

func runKeysHash(_ *cobra.Command, args []string) error {
	for _, path := range args {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", biocrypt.Hash(b), path)
	}
	return nil
}
